package processor

import (
	"context"
	"fmt"

	"bidflow/internal/types"
)

// CredentialGetter loads one credential by id.
type CredentialGetter interface {
	GetByID(ctx context.Context, id string) (*types.TenantCredential, error)
}

// SecretResolver resolves a credential's vault references.
type SecretResolver interface {
	ResolveTenantSecrets(ctx context.Context, cred types.TenantCredential) (types.TenantSecrets, error)
}

// ReportClientFactory builds an initialized client for one tenant.
type ReportClientFactory func(cred types.TenantCredential, secrets types.TenantSecrets) ReportClient

// TenantClientCache builds and memoizes one authenticated client per
// credential. A processing pass creates one cache and shares it across all
// its reports; a client is built at most once per pass even when the
// tenant's six reports arrive spread over several groups.
type TenantClientCache struct {
	credentials CredentialGetter
	secrets     SecretResolver
	factory     ReportClientFactory
	cache       map[string]ReportClient
}

// NewTenantClientCache creates an empty cache.
func NewTenantClientCache(credentials CredentialGetter, secrets SecretResolver, factory ReportClientFactory) *TenantClientCache {
	return &TenantClientCache{
		credentials: credentials,
		secrets:     secrets,
		factory:     factory,
		cache:       make(map[string]ReportClient),
	}
}

// Get returns the cached client for credentialID, building one on first
// use. Build failures are not cached; the next call retries.
func (c *TenantClientCache) Get(ctx context.Context, credentialID string) (ReportClient, error) {
	if client, ok := c.cache[credentialID]; ok {
		return client, nil
	}

	cred, err := c.credentials.GetByID(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	secrets, err := c.secrets.ResolveTenantSecrets(ctx, *cred)
	if err != nil {
		return nil, fmt.Errorf("resolving vault secrets: %w", err)
	}

	client := c.factory(*cred, secrets)
	c.cache[credentialID] = client
	return client, nil
}
