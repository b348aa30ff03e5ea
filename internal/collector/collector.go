// Package collector implements the weekly collection flow: for each
// scheduled tenant it snapshots account structure (portfolios, campaigns
// with placement bids) and requests the fixed set of performance reports,
// recording every request in the report ledger for the processor to drain.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bidflow/internal/amazon"
	"bidflow/internal/types"
)

// APIClient is the slice of the advertising API client the collector uses.
type APIClient interface {
	Initialize(ctx context.Context) error
	ListPortfolios(ctx context.Context) ([]types.Portfolio, error)
	ListCampaigns(ctx context.Context) ([]types.Campaign, error)
	CreateReport(ctx context.Context, cfg types.ReportConfig) (reportID string, reportName string, err error)
}

// ClientFactory builds an API client for one tenant's resolved secrets.
type ClientFactory func(cred types.TenantCredential, secrets types.TenantSecrets) APIClient

// SnapshotStore is the snapshot persistence the collector needs.
type SnapshotStore interface {
	Create(ctx context.Context, credentialID, weekLabel string, snapshotDate time.Time) (string, error)
	UpdateStatus(ctx context.Context, snapshotID string, status types.SnapshotStatus, counts types.SnapshotCounts) error
}

// PortfolioStore persists portfolio state.
type PortfolioStore interface {
	Upsert(ctx context.Context, credentialID string, portfolios []types.Portfolio) error
}

// CampaignStore persists campaign state.
type CampaignStore interface {
	Upsert(ctx context.Context, credentialID string, campaigns []types.Campaign) error
}

// LedgerStore records requested reports.
type LedgerStore interface {
	InsertBatch(ctx context.Context, entries []types.ReportLedgerEntry) error
}

// Collector runs the collection flow for a single tenant.
type Collector struct {
	newClient  ClientFactory
	snapshots  SnapshotStore
	portfolios PortfolioStore
	campaigns  CampaignStore
	ledger     LedgerStore
	clock      types.Clock
	logger     *slog.Logger
}

// NewCollector wires a Collector. clock and logger default when nil.
func NewCollector(
	newClient ClientFactory,
	snapshots SnapshotStore,
	portfolios PortfolioStore,
	campaigns CampaignStore,
	ledger LedgerStore,
	clock types.Clock,
	logger *slog.Logger,
) *Collector {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		newClient:  newClient,
		snapshots:  snapshots,
		portfolios: portfolios,
		campaigns:  campaigns,
		ledger:     ledger,
		clock:      clock,
		logger:     logger,
	}
}

// Collect runs one tenant's collection cycle. A failure before the snapshot
// row exists returns the error directly; a failure after it marks the
// snapshot FAILED with whatever counts were observed, then returns the
// error. An individual report request failure is logged and skipped so the
// remaining reports still go out.
func (c *Collector) Collect(ctx context.Context, cred types.TenantCredential, secrets types.TenantSecrets) error {
	logger := c.logger.With("credential_id", cred.ID, "account_name", cred.AccountName)

	client := c.newClient(cred, secrets)
	if err := client.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing API client: %w", err)
	}

	now := c.clock.Now()
	snapshotID, err := c.snapshots.Create(ctx, cred.ID, WeekLabel(now), now)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	logger = logger.With("snapshot_id", snapshotID)
	logger.InfoContext(ctx, "started collection snapshot", "week_label", WeekLabel(now))

	var counts types.SnapshotCounts
	fail := func(stage string, err error) error {
		if updErr := c.snapshots.UpdateStatus(ctx, snapshotID, types.SnapshotFailed, counts); updErr != nil {
			logger.ErrorContext(ctx, "failed to mark snapshot failed", "error", updErr)
		}
		return fmt.Errorf("%s: %w", stage, err)
	}

	portfolios, err := client.ListPortfolios(ctx)
	if err != nil {
		return fail("fetching portfolios", err)
	}
	if err := c.portfolios.Upsert(ctx, cred.ID, portfolios); err != nil {
		return fail("storing portfolios", err)
	}
	counts.Portfolios = len(portfolios)

	campaigns, err := client.ListCampaigns(ctx)
	if err != nil {
		return fail("fetching campaigns", err)
	}
	if err := c.campaigns.Upsert(ctx, cred.ID, campaigns); err != nil {
		return fail("storing campaigns", err)
	}
	counts.Campaigns = len(campaigns)

	var entries []types.ReportLedgerEntry
	for _, cfg := range amazon.ReportConfigs {
		reportID, reportName, err := client.CreateReport(ctx, cfg)
		if err != nil {
			logger.ErrorContext(ctx, "report request failed, skipping",
				"report_config", cfg.Name,
				"error", err,
			)
			continue
		}
		entries = append(entries, types.ReportLedgerEntry{
			CredentialID:    cred.ID,
			SnapshotID:      snapshotID,
			ReportName:      reportName,
			ReportRequestID: reportID,
		})
	}

	if len(entries) > 0 {
		if err := c.ledger.InsertBatch(ctx, entries); err != nil {
			return fail("recording report requests", err)
		}
	}
	counts.ReportsRequested = len(entries)

	if err := c.snapshots.UpdateStatus(ctx, snapshotID, types.SnapshotProcessing, counts); err != nil {
		return fail("advancing snapshot", err)
	}

	logger.InfoContext(ctx, "collection complete, awaiting reports",
		"portfolios", counts.Portfolios,
		"campaigns", counts.Campaigns,
		"reports_requested", counts.ReportsRequested,
	)
	return nil
}

// WeekLabel derives the label for the ISO-agnostic week bucket a snapshot
// belongs to: "WeekNN" counted from the start of the year in 7-day blocks.
func WeekLabel(now time.Time) string {
	week := (now.YearDay() + 6) / 7
	return fmt.Sprintf("Week%02d", week)
}
