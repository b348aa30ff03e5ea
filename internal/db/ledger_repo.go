package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bidflow/internal/types"
)

// LedgerRepository provides data access for the report_ledger table: one
// row per report requested against the external API. Rows only move
// forward through the status lifecycle; a retry cycle creates a fresh row
// rather than resetting a resolved one.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// InsertBatch inserts the given entries in PENDING state as one statement,
// assigning ids. All rows land or none do. The assigned ids are written
// back into the slice.
func (r *LedgerRepository) InsertBatch(ctx context.Context, entries []types.ReportLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO report_ledger
	   (id, credential_id, snapshot_id, report_name, report_request_id, status, created_at)
	 VALUES `)
	args := make([]any, 0, len(entries)*6)
	for i := range entries {
		entries[i].ID = uuid.NewString()
		entries[i].Status = types.ReportPending
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, NOW())", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args,
			entries[i].ID,
			entries[i].CredentialID,
			entries[i].SnapshotID,
			entries[i].ReportName,
			entries[i].ReportRequestID,
			entries[i].Status,
		)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert ledger entries", err)
	}
	return nil
}

// ListPending returns all non-terminal entries, oldest first, so the
// processor drains the backlog in request order.
func (r *LedgerRepository) ListPending(ctx context.Context) ([]types.ReportLedgerEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, credential_id, snapshot_id, report_name, report_request_id,
		        status, download_url, url_expires_at, error_message, created_at, completed_at
		 FROM report_ledger
		 WHERE status = ANY($1)
		 ORDER BY created_at ASC`,
		[]types.ReportStatus{types.ReportPending, types.ReportProcessing},
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending ledger entries", err)
	}
	defer rows.Close()

	var entries []types.ReportLedgerEntry
	for rows.Next() {
		var e types.ReportLedgerEntry
		err := rows.Scan(
			&e.ID,
			&e.CredentialID,
			&e.SnapshotID,
			&e.ReportName,
			&e.ReportRequestID,
			&e.Status,
			&e.DownloadURL,
			&e.URLExpiresAt,
			&e.ErrorMessage,
			&e.CreatedAt,
			&e.CompletedAt,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan ledger entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate ledger entries", err)
	}
	return entries, nil
}

// UpdateStatus transitions one entry. completed_at is stamped when the
// entry reaches a terminal status.
func (r *LedgerRepository) UpdateStatus(ctx context.Context, entryID string, status types.ReportStatus, upd types.LedgerUpdate) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	_, err := r.db.Exec(ctx,
		`UPDATE report_ledger
		 SET status = $2,
		     download_url = COALESCE($3, download_url),
		     url_expires_at = COALESCE($4, url_expires_at),
		     error_message = COALESCE($5, error_message),
		     completed_at = COALESCE($6, completed_at)
		 WHERE id = $1`,
		entryID,
		status,
		upd.DownloadURL,
		upd.URLExpiresAt,
		upd.ErrorMessage,
		completedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update ledger status", err)
	}
	return nil
}
