package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bidflow/internal/types"
)

// SnapshotRepository provides data access for the weekly_snapshots table.
// A snapshot tracks one tenant's collection cycle from the first portfolio
// fetch through the final staging-to-canonical sync.
type SnapshotRepository struct {
	db DBTX
}

// NewSnapshotRepository creates a new SnapshotRepository backed by the given
// database connection (pool or transaction).
func NewSnapshotRepository(db DBTX) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create inserts a new snapshot in COLLECTING state and returns its id.
func (r *SnapshotRepository) Create(ctx context.Context, credentialID, weekLabel string, snapshotDate time.Time) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(ctx,
		`INSERT INTO weekly_snapshots
		   (id, credential_id, week_label, snapshot_date, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		id,
		credentialID,
		weekLabel,
		snapshotDate,
		types.SnapshotCollecting,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to create snapshot", err)
	}
	return id, nil
}

// UpdateStatus transitions a snapshot and records the observed counts.
// completed_at is stamped only on the terminal statuses.
func (r *SnapshotRepository) UpdateStatus(ctx context.Context, snapshotID string, status types.SnapshotStatus, counts types.SnapshotCounts) error {
	var completedAt *time.Time
	if status == types.SnapshotCompleted || status == types.SnapshotFailed {
		now := time.Now().UTC()
		completedAt = &now
	}

	_, err := r.db.Exec(ctx,
		`UPDATE weekly_snapshots
		 SET status = $2,
		     portfolios_count = $3,
		     campaigns_count = $4,
		     reports_requested = $5,
		     reports_completed = $6,
		     completed_at = COALESCE($7, completed_at)
		 WHERE id = $1`,
		snapshotID,
		status,
		counts.Portfolios,
		counts.Campaigns,
		counts.ReportsRequested,
		counts.ReportsCompleted,
		completedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update snapshot status", err)
	}
	return nil
}

// Get returns one snapshot by id.
func (r *SnapshotRepository) Get(ctx context.Context, snapshotID string) (*types.WeeklySnapshot, error) {
	var s types.WeeklySnapshot
	err := r.db.QueryRow(ctx,
		`SELECT id, credential_id, week_label, snapshot_date, status,
		        portfolios_count, campaigns_count, reports_requested, reports_completed,
		        created_at, completed_at
		 FROM weekly_snapshots
		 WHERE id = $1`,
		snapshotID,
	).Scan(
		&s.ID,
		&s.CredentialID,
		&s.WeekLabel,
		&s.SnapshotDate,
		&s.Status,
		&s.PortfoliosCount,
		&s.CampaignsCount,
		&s.ReportsRequested,
		&s.ReportsCompleted,
		&s.CreatedAt,
		&s.CompletedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get snapshot", err)
	}
	return &s, nil
}

// AllReportsComplete reports whether every ledger entry belonging to the
// snapshot has reached COMPLETED. Any entry that is pending, processing or
// failed makes the snapshot incomplete; a snapshot with no ledger entries at
// all is also incomplete.
func (r *SnapshotRepository) AllReportsComplete(ctx context.Context, snapshotID string) (bool, error) {
	var total, completed int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = $2)
		 FROM report_ledger
		 WHERE snapshot_id = $1`,
		snapshotID,
		types.ReportCompleted,
	).Scan(&total, &completed)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check snapshot completion", err)
	}
	return total > 0 && completed == total, nil
}
