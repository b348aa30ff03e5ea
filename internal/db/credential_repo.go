package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"bidflow/internal/types"
)

// CredentialRepository provides data access for the tenant_credentials
// table: one row per connected advertising account.
type CredentialRepository struct {
	db DBTX
}

// NewCredentialRepository creates a new CredentialRepository backed by the
// given database connection (pool or transaction).
func NewCredentialRepository(db DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const credentialColumns = `id, tenant_id, account_name, profile_id, marketplace,
	refresh_token_vault_id, client_id_vault_id, client_secret_vault_id,
	active, report_day, report_hour, created_at, updated_at, deleted_at`

// ListScheduled returns the active, non-deleted credentials whose configured
// report day matches dayOfWeek (0=Sunday .. 6=Saturday), ordered by account
// name for deterministic run order.
func (r *CredentialRepository) ListScheduled(ctx context.Context, dayOfWeek int) ([]types.TenantCredential, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+credentialColumns+`
		 FROM tenant_credentials
		 WHERE active = true
		   AND deleted_at IS NULL
		   AND report_day = $1
		 ORDER BY account_name`,
		dayOfWeek,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list scheduled credentials", err)
	}
	defer rows.Close()

	var creds []types.TenantCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate scheduled credentials", err)
	}
	return creds, nil
}

// GetByID returns one credential regardless of its active flag. A missing
// row maps to ErrCodeCredentialNotFound.
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*types.TenantCredential, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+credentialColumns+`
		 FROM tenant_credentials
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeCredentialNotFound, "credential not found", pgx.ErrNoRows)
		}
		return nil, err
	}
	return &c, nil
}

func scanCredential(row pgx.Row) (types.TenantCredential, error) {
	var c types.TenantCredential
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.AccountName,
		&c.ProfileID,
		&c.Marketplace,
		&c.RefreshTokenVaultID,
		&c.ClientIDVaultID,
		&c.ClientSecretVaultID,
		&c.Active,
		&c.ReportDay,
		&c.ReportHour,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.DeletedAt,
	)
	if err != nil {
		return types.TenantCredential{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan credential row", err)
	}
	return c, nil
}
