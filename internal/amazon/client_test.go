package amazon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidflow/internal/retry"
	"bidflow/internal/types"
)

var testNow = time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

// newOAuthServer returns a token endpoint that counts refreshes.
func newOAuthServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-abc",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
}

func newTestClient(oauthURL, apiURL string, clock types.Clock) *Client {
	retrier := retry.New(retry.Policy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		Multiplier: 2,
	}, discardLogger(), retry.WithSleepFunc(noSleep))

	return NewClient(ClientConfig{
		ProfileID:    "prof-1",
		RefreshToken: types.SecretString("refresh-token-long-value"),
	}, Deps{
		HTTPClient:           &http.Client{},
		DownloadClient:       &http.Client{},
		Retrier:              retrier,
		Tokens:               NewTokenCache(),
		Clock:                clock,
		Logger:               discardLogger(),
		OAuthURL:             oauthURL,
		APIBaseURL:           apiURL,
		FallbackClientID:     types.SecretString("global-client-id"),
		FallbackClientSecret: types.SecretString("global-client-secret"),
		PageDelay:            0,
		Sleep:                noSleep,
	})
}

func TestClient_TokenCachedAcrossCalls(t *testing.T) {
	var tokenHits atomic.Int32
	oauth := newOAuthServer(t, &tokenHits)
	defer oauth.Close()

	var apiHits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		assert.Equal(t, "global-client-id", r.Header.Get("Amazon-Advertising-API-ClientId"))
		assert.Equal(t, "prof-1", r.Header.Get("Amazon-Advertising-API-Scope"))
		json.NewEncoder(w).Encode(portfolioListResponse{})
	}))
	defer api.Close()

	client := newTestClient(oauth.URL, api.URL, types.FixedClock{T: testNow})

	_, err := client.ListPortfolios(context.Background())
	require.NoError(t, err)
	_, err = client.ListPortfolios(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), tokenHits.Load(), "second call should reuse the cached token")
	assert.Equal(t, int32(2), apiHits.Load())
}

func TestClient_TokenRefreshedAfterExpiry(t *testing.T) {
	var tokenHits atomic.Int32
	oauth := newOAuthServer(t, &tokenHits)
	defer oauth.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(portfolioListResponse{})
	}))
	defer api.Close()

	clock := &stepClock{t: testNow}
	client := newTestClient(oauth.URL, api.URL, clock)

	_, err := client.ListPortfolios(context.Background())
	require.NoError(t, err)

	// Past the effective lifetime (3600s minus the safety margin).
	clock.t = testNow.Add(3600 * time.Second)
	_, err = client.ListPortfolios(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), tokenHits.Load())
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time { return c.t }

func TestClient_TokenRefreshFailure(t *testing.T) {
	oauth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer oauth.Close()

	client := newTestClient(oauth.URL, "http://unused.invalid", types.FixedClock{T: testNow})

	err := client.Initialize(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamAuth, appErr.Code)
}

func TestClient_ListCampaignsFollowsPagination(t *testing.T) {
	var tokenHits atomic.Int32
	oauth := newOAuthServer(t, &tokenHits)
	defer oauth.Close()

	var pages atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sp/campaigns/list", r.URL.Path)
		assert.Equal(t, "application/vnd.spCampaign.v3+json", r.Header.Get("Accept"))
		assert.Equal(t, "application/vnd.spCampaign.v3+json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		switch pages.Add(1) {
		case 1:
			assert.NotContains(t, payload, "nextToken")
			json.NewEncoder(w).Encode(map[string]any{
				"campaigns": []map[string]any{
					{"campaignId": 111, "name": "Alpha", "state": "ENABLED"},
				},
				"nextToken": "page-2",
			})
		default:
			assert.Equal(t, "page-2", payload["nextToken"])
			json.NewEncoder(w).Encode(map[string]any{
				"campaigns": []map[string]any{
					{"campaignId": 222, "name": "Beta", "state": "PAUSED"},
				},
			})
		}
	}))
	defer api.Close()

	client := newTestClient(oauth.URL, api.URL, types.FixedClock{T: testNow})

	campaigns, err := client.ListCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "111", campaigns[0].CampaignID)
	assert.Equal(t, "222", campaigns[1].CampaignID)
	assert.Equal(t, int32(2), pages.Load())
}

func TestClient_CreateReportWindowAndColumns(t *testing.T) {
	var tokenHits atomic.Int32
	oauth := newOAuthServer(t, &tokenHits)
	defer oauth.Close()

	var captured createReportRequest
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reporting/reports", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(createReportResponse{ReportID: "rep-42"})
	}))
	defer api.Close()

	client := newTestClient(oauth.URL, api.URL, types.FixedClock{T: testNow})

	cfg := types.ReportConfig{
		Name:         "Placement-7 Days",
		ReportTypeID: "spCampaigns",
		GroupBy:      []string{"campaign", "campaignPlacement"},
		TimeUnit:     "SUMMARY",
		LookBack:     7,
	}
	reportID, reportName, err := client.CreateReport(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "rep-42", reportID)
	assert.Equal(t, "Placement-7 Days - 2025-06-15T03-00-00", reportName)
	assert.Equal(t, "2025-06-08", captured.StartDate)
	assert.Equal(t, "2025-06-14", captured.EndDate)
	assert.Equal(t, "GZIP_JSON", captured.Configuration.Format)
	assert.Contains(t, captured.Configuration.Columns, "placementClassification")
	assert.Contains(t, captured.Configuration.Columns, "sales14d")
}

func TestClient_CreateReportCampaignOmitsPlacementColumn(t *testing.T) {
	var tokenHits atomic.Int32
	oauth := newOAuthServer(t, &tokenHits)
	defer oauth.Close()

	var captured createReportRequest
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(createReportResponse{ReportID: "rep-43"})
	}))
	defer api.Close()

	client := newTestClient(oauth.URL, api.URL, types.FixedClock{T: testNow})

	_, _, err := client.CreateReport(context.Background(), ReportConfigs[0])
	require.NoError(t, err)
	assert.NotContains(t, captured.Configuration.Columns, "placementClassification")
}

func TestClient_RetriesTransientAPIFailure(t *testing.T) {
	var tokenHits atomic.Int32
	oauth := newOAuthServer(t, &tokenHits)
	defer oauth.Close()

	var apiHits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiHits.Add(1) == 1 {
			http.Error(w, "throttled", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(portfolioListResponse{
			Portfolios: []portfolioWire{{PortfolioID: "9", Name: "Main", State: "enabled"}},
		})
	}))
	defer api.Close()

	client := newTestClient(oauth.URL, api.URL, types.FixedClock{T: testNow})

	portfolios, err := client.ListPortfolios(context.Background())
	require.NoError(t, err)
	require.Len(t, portfolios, 1)
	assert.Equal(t, "9", portfolios[0].PortfolioID)
	assert.Equal(t, int32(2), apiHits.Load())
}

func TestClient_GetReportStatus(t *testing.T) {
	var tokenHits atomic.Int32
	oauth := newOAuthServer(t, &tokenHits)
	defer oauth.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reporting/reports/rep-42", r.URL.Path)
		json.NewEncoder(w).Encode(ReportStatusResponse{
			ReportID: "rep-42",
			Status:   UpstreamCompleted,
			URL:      "https://example.com/rep-42.gz",
		})
	}))
	defer api.Close()

	client := newTestClient(oauth.URL, api.URL, types.FixedClock{T: testNow})

	status, err := client.GetReportStatus(context.Background(), "rep-42")
	require.NoError(t, err)
	assert.Equal(t, UpstreamCompleted, status.Status)
	assert.Equal(t, "https://example.com/rep-42.gz", status.URL)
}

func gzipPayload(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err = gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestClient_DownloadReportGunzipsAndParses(t *testing.T) {
	payload := gzipPayload(t, []map[string]any{
		{
			"campaignId":   12345,
			"campaignName": "Alpha",
			"impressions":  100,
			"clicks":       10,
			"cost":         5.5,
			"sales14d":     80.0,
			"purchases14d": 3,
		},
	})

	dl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer dl.Close()

	client := newTestClient("http://unused.invalid", "http://unused.invalid", types.FixedClock{T: testNow})

	rows, err := client.DownloadReport(context.Background(), dl.URL)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "12345", rows[0].CampaignID)
	assert.Equal(t, int64(100), rows[0].Impressions)
	assert.Equal(t, 5.5, rows[0].Spend)
}

func TestClient_DownloadReportRejectsNonArrayPayload(t *testing.T) {
	payload := gzipPayload(t, map[string]any{"unexpected": "object"})

	var hits atomic.Int32
	dl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer dl.Close()

	client := newTestClient("http://unused.invalid", "http://unused.invalid", types.FixedClock{T: testNow})

	_, err := client.DownloadReport(context.Background(), dl.URL)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeReportParse, appErr.Code)
	assert.Equal(t, int32(1), hits.Load(), "a parse failure must not be retried")
}

func TestClient_DownloadReportRejectsPlainJSON(t *testing.T) {
	dl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"campaignId": 1}]`))
	}))
	defer dl.Close()

	client := newTestClient("http://unused.invalid", "http://unused.invalid", types.FixedClock{T: testNow})

	_, err := client.DownloadReport(context.Background(), dl.URL)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeReportParse, appErr.Code)
}

func TestClient_ReportRowMissingCampaignID(t *testing.T) {
	_, err := parseReportRows([]byte(`[{"campaignName": "Orphan", "impressions": 1}]`))
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeReportParse, appErr.Code)
}
