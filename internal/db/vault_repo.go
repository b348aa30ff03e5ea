package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"bidflow/internal/types"
)

// VaultRepository resolves opaque vault ids to secret material through the
// get_tenant_token database function. The function runs with elevated
// privileges on the database side; this process never sees the vault table
// directly.
type VaultRepository struct {
	db DBTX
}

// NewVaultRepository creates a new VaultRepository backed by the given
// database connection (pool or transaction).
func NewVaultRepository(db DBTX) *VaultRepository {
	return &VaultRepository{db: db}
}

// GetSecret resolves one vault id. A NULL or empty result means the secret
// was rotated away or never stored and maps to ErrCodeVaultSecretMissing.
func (r *VaultRepository) GetSecret(ctx context.Context, vaultID string) (types.SecretString, error) {
	var secret *string
	err := r.db.QueryRow(ctx, `SELECT get_tenant_token($1)`, vaultID).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeVaultSecretMissing, "vault secret not found", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve vault secret", err)
	}
	if secret == nil || *secret == "" {
		return "", types.NewAppError(types.ErrCodeVaultSecretMissing, "vault secret is empty", nil)
	}
	return types.SecretString(*secret), nil
}

// ResolveTenantSecrets resolves the three vault references of one credential.
// The refresh token is mandatory; client id and secret are optional and stay
// empty when the credential carries no vault reference for them, in which
// case the caller falls back to the global OAuth app.
func (r *VaultRepository) ResolveTenantSecrets(ctx context.Context, cred types.TenantCredential) (types.TenantSecrets, error) {
	var secrets types.TenantSecrets

	refreshToken, err := r.GetSecret(ctx, cred.RefreshTokenVaultID)
	if err != nil {
		return types.TenantSecrets{}, err
	}
	secrets.RefreshToken = refreshToken

	if cred.ClientIDVaultID != "" {
		clientID, err := r.GetSecret(ctx, cred.ClientIDVaultID)
		if err != nil {
			return types.TenantSecrets{}, err
		}
		secrets.ClientID = clientID
	}
	if cred.ClientSecretVaultID != "" {
		clientSecret, err := r.GetSecret(ctx, cred.ClientSecretVaultID)
		if err != nil {
			return types.TenantSecrets{}, err
		}
		secrets.ClientSecret = clientSecret
	}
	return secrets, nil
}
