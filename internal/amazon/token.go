package amazon

import (
	"sync"
	"time"
)

// tokenExpiryMargin is subtracted from a token's upstream lifetime: a cached
// token within 60s of expiry is treated as already expired so a request
// never goes out with a token that dies mid-flight.
const tokenExpiryMargin = 60 * time.Second

// cachedToken is one access token with its effective expiry.
type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenCache caches access tokens across client instances, keyed by
// (profile id, refresh-token prefix). It is an explicit injectable object
// rather than a package-level singleton so tests can reset state between
// cases and the processor can share one cache across its per-tenant clients.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
}

// NewTokenCache creates an empty TokenCache.
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]cachedToken)}
}

// tokenCacheKey builds the cache key from the profile id and the first 10
// characters of the refresh token, enough to distinguish tenants sharing a
// profile id across reconnects.
func tokenCacheKey(profileID, refreshToken string) string {
	prefix := refreshToken
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	return profileID + ":" + prefix
}

// Get returns the cached access token for key if it is still valid at now
// (with the expiry margin already applied on Put).
func (c *TokenCache) Get(key string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.tokens[key]
	if !ok || !tok.expiresAt.After(now) {
		return "", false
	}
	return tok.accessToken, true
}

// Put stores an access token with lifetime expiresIn (seconds, as reported
// by the provider), shortened by the expiry margin.
func (c *TokenCache) Put(key, accessToken string, expiresIn int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[key] = cachedToken{
		accessToken: accessToken,
		expiresAt:   now.Add(time.Duration(expiresIn)*time.Second - tokenExpiryMargin),
	}
}

// Reset drops all cached tokens. Test helper.
func (c *TokenCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]cachedToken)
}
