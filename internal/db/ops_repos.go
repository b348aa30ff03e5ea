package db

import (
	"context"

	"github.com/google/uuid"

	"bidflow/internal/types"
)

// SchedulerLogRepository provides append-only audit records of daily
// collection runs in the scheduler_log table.
type SchedulerLogRepository struct {
	db DBTX
}

// NewSchedulerLogRepository creates a new SchedulerLogRepository backed by
// the given database connection (pool or transaction).
func NewSchedulerLogRepository(db DBTX) *SchedulerLogRepository {
	return &SchedulerLogRepository{db: db}
}

// Insert appends one run record. Entries are never updated or deleted.
func (r *SchedulerLogRepository) Insert(ctx context.Context, entry types.SchedulerLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO scheduler_log
		   (id, run_date, worker_id, tenant_count, success_count, failure_count,
		    duration_ms, errors, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		entry.ID,
		entry.RunDate,
		entry.WorkerID,
		entry.TenantCount,
		entry.SuccessCount,
		entry.FailureCount,
		entry.DurationMs,
		entry.Errors,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert scheduler log entry", err)
	}
	return nil
}

// SyncRepository invokes the staging-to-canonical promotion for one
// completed snapshot through the sync_staging_to_raw database function. The
// promotion itself (reconciliation, canonical table writes) lives entirely
// in the database; this process only triggers it and observes success or
// failure.
type SyncRepository struct {
	db DBTX
}

// NewSyncRepository creates a new SyncRepository backed by the given
// database connection (pool or transaction).
func NewSyncRepository(db DBTX) *SyncRepository {
	return &SyncRepository{db: db}
}

// SyncStagingToRaw promotes one snapshot's staged rows.
func (r *SyncRepository) SyncStagingToRaw(ctx context.Context, snapshotID string) error {
	_, err := r.db.Exec(ctx, `SELECT sync_staging_to_raw($1)`, snapshotID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to sync staging to canonical", err)
	}
	return nil
}
