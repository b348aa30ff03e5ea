// Package amazon implements the per-tenant advertising API client: OAuth
// token lifecycle, portfolio and campaign listing, asynchronous report
// creation, status polling, and download of completed report payloads.
//
// Every network-touching method is wrapped by the shared retry utility with
// a descriptive operation name, and all requests flow through a circuit
// breaker so a broken upstream trips fast instead of burning the retry
// budget on every call.
package amazon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker/v2"

	"bidflow/internal/retry"
	"bidflow/internal/types"
)

// maxErrorBodyLen bounds how much of an upstream error body is carried into
// error messages and logs.
const maxErrorBodyLen = 200

// ClientConfig holds the per-tenant identity of one client instance.
// ClientID/ClientSecret are the tenant's own OAuth app credentials when the
// tenant supplied them; empty values fall back to the global app.
type ClientConfig struct {
	ProfileID    string
	RefreshToken types.SecretString
	ClientID     types.SecretString
	ClientSecret types.SecretString
}

// Deps carries the process-lifetime collaborators shared across client
// instances.
type Deps struct {
	// HTTPClient performs API calls (recommended timeout 60s).
	HTTPClient *http.Client
	// DownloadClient performs report downloads (recommended timeout 120s).
	DownloadClient *http.Client

	Retrier *retry.Retrier
	Tokens  *TokenCache
	Clock   types.Clock
	Logger  *slog.Logger

	OAuthURL   string
	APIBaseURL string

	// Global OAuth app credentials, used when the tenant has none of its own.
	FallbackClientID     types.SecretString
	FallbackClientSecret types.SecretString

	// PageDelay is inserted between campaign-list pages.
	PageDelay time.Duration
	// Sleep is injectable for tests; defaults to a context-aware sleep.
	Sleep func(context.Context, time.Duration) error
}

// Client is a per-tenant advertising API client. One instance serves one
// tenant; access tokens are shared process-wide through the TokenCache.
type Client struct {
	profileID    string
	refreshToken string
	clientID     string
	clientSecret string

	httpClient     *http.Client
	downloadClient *http.Client
	breaker        *gobreaker.CircuitBreaker[[]byte]
	retrier        *retry.Retrier
	tokens         *TokenCache
	clock          types.Clock
	logger         *slog.Logger

	oauthURL   string
	apiBaseURL string
	pageDelay  time.Duration
	sleep      func(context.Context, time.Duration) error
}

// NewClient constructs a client for one tenant. It performs no I/O; call
// Initialize to fetch the first access token.
func NewClient(cfg ClientConfig, deps Deps) *Client {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = deps.FallbackClientID
	}
	clientSecret := cfg.ClientSecret
	if clientSecret == "" {
		clientSecret = deps.FallbackClientSecret
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "amazon-ads:" + cfg.ProfileID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// Only throttling and upstream-side failures count against the
			// breaker; a 4xx is the caller's problem, not upstream health.
			return err == nil || !retry.IsTransient(err)
		},
	})

	return &Client{
		profileID:      cfg.ProfileID,
		refreshToken:   cfg.RefreshToken.Unmask(),
		clientID:       clientID.Unmask(),
		clientSecret:   clientSecret.Unmask(),
		httpClient:     deps.HTTPClient,
		downloadClient: deps.DownloadClient,
		breaker:        breaker,
		retrier:        deps.Retrier,
		tokens:         deps.Tokens,
		clock:          clock,
		logger:         logger,
		oauthURL:       deps.OAuthURL,
		apiBaseURL:     deps.APIBaseURL,
		pageDelay:      deps.PageDelay,
		sleep:          sleep,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize fetches the first access token (or validates the cached one).
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.ensureToken(ctx)
	return err
}

// ensureToken returns a valid access token, refreshing only when none is
// cached or the cached one is within the expiry margin.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	key := tokenCacheKey(c.profileID, c.refreshToken)
	if tok, ok := c.tokens.Get(key, c.clock.Now()); ok {
		return tok, nil
	}

	c.logger.InfoContext(ctx, "refreshing advertising API access token", "profile_id", c.profileID)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", c.refreshToken)
	encoded := form.Encode()

	body, err := retry.Do(ctx, c.retrier, "OAuth token refresh", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.execute(req)
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamAuth, "token refresh failed", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamAuth, "malformed token response", err)
	}
	if tok.AccessToken == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamAuth, "provider returned empty access token", nil)
	}

	c.tokens.Put(key, tok.AccessToken, tok.ExpiresIn, c.clock.Now())
	return tok.AccessToken, nil
}

// execute runs one HTTP request through the circuit breaker, reads the full
// body, and converts non-2xx statuses into HTTPStatusError for the retry
// classifier.
func (c *Client) execute(req *http.Request) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &retry.HTTPStatusError{
				StatusCode: resp.StatusCode,
				Body:       truncate(string(body), maxErrorBodyLen),
			}
		}
		return body, nil
	})
}

// apiRequest issues one authenticated API call, rebuilding the request on
// each retry attempt so the body reader is fresh.
func (c *Client) apiRequest(ctx context.Context, opName, method, path string, payload any, headers map[string]string) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "encoding API request payload", err)
		}
	}

	return retry.Do(ctx, c.retrier, opName, func(ctx context.Context) ([]byte, error) {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}

		var body io.Reader
		if encoded != nil {
			body = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Amazon-Advertising-API-ClientId", c.clientID)
		req.Header.Set("Amazon-Advertising-API-Scope", c.profileID)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return c.execute(req)
	})
}

// ListPortfolios fetches all portfolios in a single call. Portfolios with
// no budget map to nil budget fields.
func (c *Client) ListPortfolios(ctx context.Context) ([]types.Portfolio, error) {
	body, err := c.apiRequest(ctx, "List portfolios", http.MethodPost, "/portfolios/list",
		map[string]any{"includeExtendedDataFields": true}, nil)
	if err != nil {
		return nil, err
	}

	var resp portfolioListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationBadPayload, "malformed portfolio list response", err)
	}

	portfolios := make([]types.Portfolio, 0, len(resp.Portfolios))
	for _, w := range resp.Portfolios {
		portfolios = append(portfolios, w.toDomain())
	}

	c.logger.InfoContext(ctx, "fetched portfolios", "profile_id", c.profileID, "count", len(portfolios))
	return portfolios, nil
}

// ListCampaigns fetches all campaigns via the paginated list endpoint,
// following continuation tokens with a fixed delay between pages to respect
// upstream rate limits.
func (c *Client) ListCampaigns(ctx context.Context) ([]types.Campaign, error) {
	headers := map[string]string{
		"Accept":       "application/vnd.spCampaign.v3+json",
		"Content-Type": "application/vnd.spCampaign.v3+json",
	}

	var campaigns []types.Campaign
	nextToken := ""

	for {
		payload := map[string]any{
			"includeExtendedDataFields": true,
			"maxResults":                100,
		}
		if nextToken != "" {
			payload["nextToken"] = nextToken
		}

		body, err := c.apiRequest(ctx, "List campaigns", http.MethodPost, "/sp/campaigns/list", payload, headers)
		if err != nil {
			return nil, err
		}

		var resp campaignListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationBadPayload, "malformed campaign list response", err)
		}

		for _, w := range resp.Campaigns {
			campaigns = append(campaigns, w.toDomain())
		}

		nextToken = resp.NextToken
		if nextToken == "" {
			break
		}
		if err := c.sleep(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}

	c.logger.InfoContext(ctx, "fetched campaigns", "profile_id", c.profileID, "count", len(campaigns))
	return campaigns, nil
}

// CreateReport requests one asynchronous report covering the window
// [today - LookBack, yesterday] inclusive and returns the external report
// request id. The generated report name embeds the request timestamp for
// traceability; callers persist it on the ledger entry.
func (c *Client) CreateReport(ctx context.Context, cfg types.ReportConfig) (reportID string, reportName string, err error) {
	now := c.clock.Now()
	endDate := now.AddDate(0, 0, -1)
	startDate := now.AddDate(0, 0, -cfg.LookBack)

	reportName = fmt.Sprintf("%s - %s", cfg.Name, now.Format("2006-01-02T15-04-05"))

	columns := append([]string(nil), reportColumns...)
	if cfg.PlacementGrouped() {
		columns = append(columns, "placementClassification")
	}

	payload := createReportRequest{
		Name:      reportName,
		StartDate: startDate.Format("2006-01-02"),
		EndDate:   endDate.Format("2006-01-02"),
		Configuration: reportConfiguration{
			AdProduct:    "SPONSORED_PRODUCTS",
			GroupBy:      cfg.GroupBy,
			Columns:      columns,
			ReportTypeID: cfg.ReportTypeID,
			TimeUnit:     cfg.TimeUnit,
			Format:       "GZIP_JSON",
		},
	}

	body, err := c.apiRequest(ctx, "Create report", http.MethodPost, "/reporting/reports", payload, nil)
	if err != nil {
		return "", "", err
	}

	var resp createReportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", types.NewAppError(types.ErrCodeValidationBadPayload, "malformed create report response", err)
	}
	if resp.ReportID == "" {
		return "", "", types.NewAppError(types.ErrCodeValidationBadPayload, "create report response missing reportId", nil)
	}

	c.logger.InfoContext(ctx, "created report request",
		"report_name", reportName,
		"report_id", resp.ReportID,
		"look_back_days", cfg.LookBack,
	)
	return resp.ReportID, reportName, nil
}

// GetReportStatus polls one report. It returns the upstream status and, for
// completed reports, the time-limited download URL. It never downloads.
func (c *Client) GetReportStatus(ctx context.Context, reportID string) (*ReportStatusResponse, error) {
	body, err := c.apiRequest(ctx, "Get report status", http.MethodGet, "/reporting/reports/"+reportID, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp ReportStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationBadPayload, "malformed report status response", err)
	}
	return &resp, nil
}

// DownloadReport fetches the pre-signed report URL, gunzips the payload,
// and parses it into validated rows. Parse failures are structural, not
// transient, so they are never retried.
func (c *Client) DownloadReport(ctx context.Context, downloadURL string) ([]types.ReportRow, error) {
	c.logger.InfoContext(ctx, "downloading report", "url", truncate(downloadURL, 50)+"...")

	compressed, err := retry.Do(ctx, c.retrier, "Download report", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.downloadClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &retry.HTTPStatusError{
				StatusCode: resp.StatusCode,
				Body:       truncate(string(body), maxErrorBodyLen),
			}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeReportParse, "report payload is not gzip", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeReportParse, "decompressing report payload", err)
	}

	rows, err := parseReportRows(raw)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "downloaded and parsed report", "row_count", len(rows))
	return rows, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
