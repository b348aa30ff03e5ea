// Package processor drains the report ledger: it polls requested reports,
// downloads and aggregates completed ones into staging tables, and promotes
// each snapshot to the canonical store once every one of its reports has
// resolved. It runs frequently and must be safe to re-run at any time;
// every step is idempotent at the ledger-entry level.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bidflow/internal/alert"
	"bidflow/internal/amazon"
	"bidflow/internal/types"
)

// ReportClient is the slice of the advertising API client the processor
// uses.
type ReportClient interface {
	GetReportStatus(ctx context.Context, reportID string) (*amazon.ReportStatusResponse, error)
	DownloadReport(ctx context.Context, downloadURL string) ([]types.ReportRow, error)
}

// ClientCache hands out one authenticated client per credential, reusing it
// across the reports of one processing pass.
type ClientCache interface {
	Get(ctx context.Context, credentialID string) (ReportClient, error)
}

// LedgerStore is the ledger persistence the processor needs.
type LedgerStore interface {
	ListPending(ctx context.Context) ([]types.ReportLedgerEntry, error)
	UpdateStatus(ctx context.Context, entryID string, status types.ReportStatus, upd types.LedgerUpdate) error
}

// SnapshotStore is the snapshot persistence the processor needs.
type SnapshotStore interface {
	Get(ctx context.Context, snapshotID string) (*types.WeeklySnapshot, error)
	UpdateStatus(ctx context.Context, snapshotID string, status types.SnapshotStatus, counts types.SnapshotCounts) error
	AllReportsComplete(ctx context.Context, snapshotID string) (bool, error)
}

// StagingStore persists aggregated report rows.
type StagingStore interface {
	InsertCampaignRows(ctx context.Context, rows []types.StagingCampaignReport) error
	InsertPlacementRows(ctx context.Context, rows []types.StagingPlacementReport) error
}

// Syncer promotes one snapshot's staged rows to the canonical store.
type Syncer interface {
	SyncStagingToRaw(ctx context.Context, snapshotID string) error
}

// Alerter is the slice of the alert notifier the processor uses.
type Alerter interface {
	Error(ctx context.Context, message string, fields ...alert.Field)
}

// Processor executes one processing pass over the pending ledger.
type Processor struct {
	clients   ClientCache
	ledger    LedgerStore
	snapshots SnapshotStore
	staging   StagingStore
	syncer    Syncer
	alerter   Alerter
	clock     types.Clock
	logger    *slog.Logger

	// maxReportAge bounds how long a ledger entry may stay unresolved
	// before it is declared lost and failed.
	maxReportAge   time.Duration
	downloadURLTTL time.Duration

	// reportDelay separates consecutive reports within one tenant's group
	// so a pass never bursts the upstream API.
	reportDelay time.Duration
	sleep       func(context.Context, time.Duration) error
}

// NewProcessor wires a Processor. clock and logger default when nil.
func NewProcessor(
	clients ClientCache,
	ledger LedgerStore,
	snapshots SnapshotStore,
	staging StagingStore,
	syncer Syncer,
	alerter Alerter,
	clock types.Clock,
	logger *slog.Logger,
	maxReportAge time.Duration,
	downloadURLTTL time.Duration,
	reportDelay time.Duration,
) *Processor {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		clients:        clients,
		ledger:         ledger,
		snapshots:      snapshots,
		staging:        staging,
		syncer:         syncer,
		alerter:        alerter,
		clock:          clock,
		logger:         logger,
		maxReportAge:   maxReportAge,
		downloadURLTTL: downloadURLTTL,
		reportDelay:    reportDelay,
		sleep:          sleepCtx,
	}
}

// WithSleepFunc overrides the inter-report sleep. Test helper.
func (p *Processor) WithSleepFunc(fn func(context.Context, time.Duration) error) *Processor {
	p.sleep = fn
	return p
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

// Process runs one pass: list pending entries, group them by credential
// (preserving oldest-first order within and across groups), process each
// entry, then evaluate snapshot completion for every snapshot touched.
// Consecutive reports within a group are separated by reportDelay; a
// cancelled sleep aborts the pass.
// A failure in one report never stops its siblings; a failure to build a
// tenant's client skips that tenant's group entirely, leaving its entries
// pending for the next pass.
func (p *Processor) Process(ctx context.Context) error {
	entries, err := p.ledger.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending reports: %w", err)
	}
	if len(entries) == 0 {
		p.logger.DebugContext(ctx, "no pending reports")
		return nil
	}

	groups := make(map[string][]types.ReportLedgerEntry)
	var groupOrder []string
	for _, e := range entries {
		if _, ok := groups[e.CredentialID]; !ok {
			groupOrder = append(groupOrder, e.CredentialID)
		}
		groups[e.CredentialID] = append(groups[e.CredentialID], e)
	}

	p.logger.InfoContext(ctx, "processing pending reports",
		"report_count", len(entries),
		"tenant_count", len(groupOrder),
	)

	for _, credentialID := range groupOrder {
		group := groups[credentialID]

		client, err := p.clients.Get(ctx, credentialID)
		if err != nil {
			// Entries stay pending; the next pass retries the whole group.
			p.logger.ErrorContext(ctx, "failed to build client for tenant, skipping its reports",
				"credential_id", credentialID,
				"report_count", len(group),
				"error", err,
			)
			continue
		}

		snapshotIDs := make(map[string]struct{})
		for i, entry := range group {
			if i > 0 && p.reportDelay > 0 {
				if err := p.sleep(ctx, p.reportDelay); err != nil {
					return err
				}
			}
			snapshotIDs[entry.SnapshotID] = struct{}{}
			p.processReport(ctx, client, entry)
		}

		for snapshotID := range snapshotIDs {
			p.finalizeSnapshot(ctx, snapshotID)
		}
	}

	return nil
}

// processReport advances one ledger entry. Errors are absorbed here: the
// entry is failed, an alert goes out, and the caller moves on.
func (p *Processor) processReport(ctx context.Context, client ReportClient, entry types.ReportLedgerEntry) {
	logger := p.logger.With(
		"entry_id", entry.ID,
		"report_name", entry.ReportName,
		"report_request_id", entry.ReportRequestID,
	)

	if age := p.clock.Now().Sub(entry.CreatedAt); age > p.maxReportAge {
		msg := fmt.Sprintf("report unresolved after %s", age.Round(time.Minute))
		logger.ErrorContext(ctx, "report timed out", "age", age.String())
		p.failReport(ctx, entry, msg)
		return
	}

	status, err := client.GetReportStatus(ctx, entry.ReportRequestID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to poll report status", "error", err)
		p.failReport(ctx, entry, fmt.Sprintf("polling report status: %v", err))
		return
	}

	switch status.Status {
	case amazon.UpstreamPending, amazon.UpstreamProcessing:
		if entry.Status == types.ReportPending {
			if err := p.ledger.UpdateStatus(ctx, entry.ID, types.ReportProcessing, types.LedgerUpdate{}); err != nil {
				logger.ErrorContext(ctx, "failed to promote ledger entry", "error", err)
			}
		}

	case amazon.UpstreamFailure:
		msg := "upstream report generation failed"
		if status.StatusDetails != "" {
			msg = fmt.Sprintf("%s: %s", msg, status.StatusDetails)
		}
		logger.ErrorContext(ctx, "report failed upstream", "details", status.StatusDetails)
		if err := p.ledger.UpdateStatus(ctx, entry.ID, types.ReportFailed, types.LedgerUpdate{ErrorMessage: &msg}); err != nil {
			logger.ErrorContext(ctx, "failed to mark ledger entry failed", "error", err)
		}

	case amazon.UpstreamCompleted:
		if status.URL == "" {
			logger.ErrorContext(ctx, "report completed without a download url")
			p.failReport(ctx, entry, "upstream reported completion without a download url")
			return
		}
		if err := p.ingestReport(ctx, client, entry, status.URL); err != nil {
			logger.ErrorContext(ctx, "failed to ingest completed report", "error", err)
			p.failReport(ctx, entry, fmt.Sprintf("ingesting report: %v", err))
		}

	default:
		logger.WarnContext(ctx, "unrecognized upstream report status", "status", status.Status)
	}
}

// ingestReport downloads, aggregates and stages one completed report, then
// marks the entry COMPLETED with the download URL and its expiry.
func (p *Processor) ingestReport(ctx context.Context, client ReportClient, entry types.ReportLedgerEntry, downloadURL string) error {
	rows, err := client.DownloadReport(ctx, downloadURL)
	if err != nil {
		return err
	}

	if isPlacementReport(entry.ReportName) {
		staged := aggregatePlacementRows(entry.CredentialID, entry.SnapshotID, entry.ReportName, rows)
		if err := p.staging.InsertPlacementRows(ctx, staged); err != nil {
			return err
		}
	} else {
		staged := aggregateCampaignRows(entry.CredentialID, entry.SnapshotID, entry.ReportName, rows)
		if err := p.staging.InsertCampaignRows(ctx, staged); err != nil {
			return err
		}
	}

	expiresAt := p.clock.Now().Add(p.downloadURLTTL)
	if err := p.ledger.UpdateStatus(ctx, entry.ID, types.ReportCompleted, types.LedgerUpdate{
		DownloadURL:  &downloadURL,
		URLExpiresAt: &expiresAt,
	}); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "report ingested",
		"entry_id", entry.ID,
		"report_name", entry.ReportName,
		"raw_rows", len(rows),
	)
	return nil
}

// failReport marks one entry FAILED and raises an error alert. Both steps
// are best-effort.
func (p *Processor) failReport(ctx context.Context, entry types.ReportLedgerEntry, msg string) {
	if err := p.ledger.UpdateStatus(ctx, entry.ID, types.ReportFailed, types.LedgerUpdate{ErrorMessage: &msg}); err != nil {
		p.logger.ErrorContext(ctx, "failed to mark ledger entry failed",
			"entry_id", entry.ID,
			"error", err,
		)
	}
	p.alerter.Error(ctx, "Report processing failed",
		alert.Field{Name: "Report", Value: entry.ReportName},
		alert.Field{Name: "Request ID", Value: entry.ReportRequestID},
		alert.Field{Name: "Error", Value: msg},
	)
}

// finalizeSnapshot promotes one snapshot when every ledger entry belonging
// to it (not just the ones seen during this pass) has completed. A sync
// failure fails the snapshot; nothing here propagates to the caller.
func (p *Processor) finalizeSnapshot(ctx context.Context, snapshotID string) {
	logger := p.logger.With("snapshot_id", snapshotID)

	done, err := p.snapshots.AllReportsComplete(ctx, snapshotID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to check snapshot completion", "error", err)
		return
	}
	if !done {
		return
	}

	snap, err := p.snapshots.Get(ctx, snapshotID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load snapshot for promotion", "error", err)
		return
	}
	if snap.Status == types.SnapshotCompleted {
		return
	}

	counts := types.SnapshotCounts{
		Portfolios:       snap.PortfoliosCount,
		Campaigns:        snap.CampaignsCount,
		ReportsRequested: snap.ReportsRequested,
		ReportsCompleted: snap.ReportsRequested,
	}

	if err := p.syncer.SyncStagingToRaw(ctx, snapshotID); err != nil {
		logger.ErrorContext(ctx, "staging sync failed", "error", err)
		if updErr := p.snapshots.UpdateStatus(ctx, snapshotID, types.SnapshotFailed, counts); updErr != nil {
			logger.ErrorContext(ctx, "failed to mark snapshot failed", "error", updErr)
		}
		p.alerter.Error(ctx, "Staging sync failed for snapshot",
			alert.Field{Name: "Snapshot", Value: snapshotID},
			alert.Field{Name: "Error", Value: err.Error()},
		)
		return
	}

	if err := p.snapshots.UpdateStatus(ctx, snapshotID, types.SnapshotCompleted, counts); err != nil {
		logger.ErrorContext(ctx, "failed to mark snapshot completed", "error", err)
		return
	}
	logger.InfoContext(ctx, "snapshot completed and synced",
		"reports_completed", counts.ReportsCompleted,
	)
}
