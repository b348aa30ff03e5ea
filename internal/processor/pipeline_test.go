package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidflow/internal/alert"
	"bidflow/internal/amazon"
	"bidflow/internal/collector"
	"bidflow/internal/types"
)

// In-memory stores shared by the collection and processing halves so one
// test can walk a tenant's reports through the whole lifecycle.

type memLedger struct {
	entries []types.ReportLedgerEntry
}

func (m *memLedger) InsertBatch(_ context.Context, entries []types.ReportLedgerEntry) error {
	for i := range entries {
		entries[i].ID = uuid.NewString()
		entries[i].Status = types.ReportPending
		entries[i].CreatedAt = testNow
		m.entries = append(m.entries, entries[i])
	}
	return nil
}

func (m *memLedger) ListPending(context.Context) ([]types.ReportLedgerEntry, error) {
	var out []types.ReportLedgerEntry
	for _, e := range m.entries {
		if !e.Status.Terminal() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLedger) UpdateStatus(_ context.Context, entryID string, status types.ReportStatus, upd types.LedgerUpdate) error {
	for i := range m.entries {
		if m.entries[i].ID != entryID {
			continue
		}
		m.entries[i].Status = status
		if upd.DownloadURL != nil {
			m.entries[i].DownloadURL = upd.DownloadURL
		}
		if upd.URLExpiresAt != nil {
			m.entries[i].URLExpiresAt = upd.URLExpiresAt
		}
		if upd.ErrorMessage != nil {
			m.entries[i].ErrorMessage = upd.ErrorMessage
		}
		if status.Terminal() {
			done := testNow
			m.entries[i].CompletedAt = &done
		}
		return nil
	}
	return fmt.Errorf("no ledger entry %s", entryID)
}

type memSnapshots struct {
	snaps  map[string]*types.WeeklySnapshot
	ledger *memLedger
}

func (m *memSnapshots) Create(_ context.Context, credentialID, weekLabel string, snapshotDate time.Time) (string, error) {
	id := uuid.NewString()
	m.snaps[id] = &types.WeeklySnapshot{
		ID:           id,
		CredentialID: credentialID,
		WeekLabel:    weekLabel,
		SnapshotDate: snapshotDate,
		Status:       types.SnapshotCollecting,
		CreatedAt:    testNow,
	}
	return id, nil
}

func (m *memSnapshots) UpdateStatus(_ context.Context, snapshotID string, status types.SnapshotStatus, counts types.SnapshotCounts) error {
	s, ok := m.snaps[snapshotID]
	if !ok {
		return fmt.Errorf("no snapshot %s", snapshotID)
	}
	s.Status = status
	s.PortfoliosCount = counts.Portfolios
	s.CampaignsCount = counts.Campaigns
	s.ReportsRequested = counts.ReportsRequested
	s.ReportsCompleted = counts.ReportsCompleted
	return nil
}

func (m *memSnapshots) Get(_ context.Context, snapshotID string) (*types.WeeklySnapshot, error) {
	s, ok := m.snaps[snapshotID]
	if !ok {
		return nil, fmt.Errorf("no snapshot %s", snapshotID)
	}
	dup := *s
	return &dup, nil
}

func (m *memSnapshots) AllReportsComplete(_ context.Context, snapshotID string) (bool, error) {
	total, completed := 0, 0
	for _, e := range m.ledger.entries {
		if e.SnapshotID != snapshotID {
			continue
		}
		total++
		if e.Status == types.ReportCompleted {
			completed++
		}
	}
	return total > 0 && completed == total, nil
}

type memPortfolios struct{ rows []types.Portfolio }

func (m *memPortfolios) Upsert(_ context.Context, _ string, portfolios []types.Portfolio) error {
	m.rows = append(m.rows, portfolios...)
	return nil
}

type memCampaigns struct{ rows []types.Campaign }

func (m *memCampaigns) Upsert(_ context.Context, _ string, campaigns []types.Campaign) error {
	m.rows = append(m.rows, campaigns...)
	return nil
}

type memStaging struct {
	campaignRows  []types.StagingCampaignReport
	placementRows []types.StagingPlacementReport
}

func (m *memStaging) InsertCampaignRows(_ context.Context, rows []types.StagingCampaignReport) error {
	m.campaignRows = append(m.campaignRows, rows...)
	return nil
}

func (m *memStaging) InsertPlacementRows(_ context.Context, rows []types.StagingPlacementReport) error {
	m.placementRows = append(m.placementRows, rows...)
	return nil
}

type memSyncer struct {
	synced []string
}

func (m *memSyncer) SyncStagingToRaw(_ context.Context, snapshotID string) error {
	m.synced = append(m.synced, snapshotID)
	return nil
}

type noopAlerter struct{}

func (noopAlerter) Error(context.Context, string, ...alert.Field) {}

// pipelineClient serves both halves: report requests during collection,
// then polling and downloads during processing.
type pipelineClient struct{}

func (pipelineClient) Initialize(context.Context) error { return nil }

func (pipelineClient) ListPortfolios(context.Context) ([]types.Portfolio, error) {
	return []types.Portfolio{{PortfolioID: "pf-1", Name: "Brand"}}, nil
}

func (pipelineClient) ListCampaigns(context.Context) ([]types.Campaign, error) {
	return []types.Campaign{
		{CampaignID: "c-1", Name: "Alpha"},
		{CampaignID: "c-2", Name: "Beta"},
	}, nil
}

func (pipelineClient) CreateReport(_ context.Context, cfg types.ReportConfig) (string, string, error) {
	return "rep-" + cfg.Name, cfg.Name + " - 2025-06-15T03-00-00", nil
}

func (pipelineClient) GetReportStatus(_ context.Context, reportID string) (*amazon.ReportStatusResponse, error) {
	return &amazon.ReportStatusResponse{
		ReportID: reportID,
		Status:   amazon.UpstreamCompleted,
		URL:      "https://reports.example.com/" + reportID + ".gz",
	}, nil
}

func (pipelineClient) DownloadReport(_ context.Context, url string) ([]types.ReportRow, error) {
	row := types.ReportRow{
		CampaignID:   "c-1",
		CampaignName: "Alpha",
		Impressions:  100,
		Clicks:       10,
		Spend:        5,
		Sales14d:     25,
		Purchases14d: 2,
	}
	if isPlacementReport(url) {
		row.PlacementClassification = "Top of search"
	}
	return []types.ReportRow{row}, nil
}

type staticClientCache struct{ client ReportClient }

func (c staticClientCache) Get(context.Context, string) (ReportClient, error) {
	return c.client, nil
}

func TestPipeline_CollectThenProcess(t *testing.T) {
	ledger := &memLedger{}
	snapshots := &memSnapshots{snaps: map[string]*types.WeeklySnapshot{}}
	snapshots.ledger = ledger
	staging := &memStaging{}
	syncer := &memSyncer{}
	client := pipelineClient{}

	cred := types.TenantCredential{ID: "cred-1", TenantID: "tenant-1", AccountName: "Acme", ProfileID: "prof-1"}

	coll := collector.NewCollector(
		func(types.TenantCredential, types.TenantSecrets) collector.APIClient { return client },
		snapshots, &memPortfolios{}, &memCampaigns{}, ledger,
		types.FixedClock{T: testNow}, testLogger(),
	)
	require.NoError(t, coll.Collect(context.Background(), cred, types.TenantSecrets{RefreshToken: "tok"}))

	// Collection half: one PENDING ledger row per report config and a
	// snapshot advanced to PROCESSING with the observed counts.
	require.Len(t, ledger.entries, len(amazon.ReportConfigs))
	for _, e := range ledger.entries {
		assert.Equal(t, types.ReportPending, e.Status)
		assert.Equal(t, "cred-1", e.CredentialID)
	}
	require.Len(t, snapshots.snaps, 1)
	var snap *types.WeeklySnapshot
	for _, s := range snapshots.snaps {
		snap = s
	}
	assert.Equal(t, types.SnapshotProcessing, snap.Status)
	assert.Equal(t, 1, snap.PortfoliosCount)
	assert.Equal(t, 2, snap.CampaignsCount)
	assert.Equal(t, len(amazon.ReportConfigs), snap.ReportsRequested)

	proc := NewProcessor(
		staticClientCache{client: client}, ledger, snapshots, staging, syncer, noopAlerter{},
		types.FixedClock{T: testNow}, testLogger(),
		24*time.Hour, time.Hour, reportDelay,
	).WithSleepFunc(func(context.Context, time.Duration) error { return nil })
	require.NoError(t, proc.Process(context.Background()))

	// Processing half: every entry resolved COMPLETED with its download
	// url, the snapshot promoted, and exactly one canonical sync.
	for _, e := range ledger.entries {
		assert.Equal(t, types.ReportCompleted, e.Status, e.ReportName)
		require.NotNil(t, e.DownloadURL, e.ReportName)
		assert.NotNil(t, e.CompletedAt, e.ReportName)
	}
	assert.Equal(t, types.SnapshotCompleted, snap.Status)
	assert.Equal(t, len(amazon.ReportConfigs), snap.ReportsCompleted)
	assert.Equal(t, []string{snap.ID}, syncer.synced)

	// Two of the six configs are placement-grouped; the rest stage at
	// campaign level.
	assert.Len(t, staging.placementRows, 2)
	assert.Len(t, staging.campaignRows, 4)
}
