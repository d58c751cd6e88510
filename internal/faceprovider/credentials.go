package faceprovider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CredentialCache holds the single bearer token used for provider calls and
// refreshes it transparently. A token is never handed out within the safety
// margin of its expiry; it is exchanged for a fresh one first.
//
// The cache is the only shared mutable state in the pipeline. Token and
// expiry are always swapped together under the lock, and only one exchange
// is ever in flight: callers arriving during a refresh are served the
// previous token as long as it has not actually expired (the margin only
// gates starting a refresh, old tokens stay valid until real expiry).
type CredentialCache struct {
	exchanger Exchanger
	margin    time.Duration
	logger    *zap.Logger

	mu         sync.Mutex
	cred       Credential
	refreshing bool
	refreshed  chan struct{}

	now func() time.Time
}

// NewCredentialCache creates an empty cache; the first Token call performs
// the initial exchange.
func NewCredentialCache(exchanger Exchanger, margin time.Duration, logger *zap.Logger) *CredentialCache {
	return &CredentialCache{
		exchanger: exchanger,
		margin:    margin,
		logger:    logger.Named("credential_cache"),
		now:       time.Now,
	}
}

// Token returns a token that is valid for at least the safety margin,
// exchanging client credentials when the cached one is missing or stale.
// Safe for concurrent use. Exchange failures surface as a ProviderError of
// kind auth; the cache itself never retries.
func (c *CredentialCache) Token(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		now := c.now()

		if c.cred.Token != "" && c.cred.Expiry.After(now.Add(c.margin)) {
			token := c.cred.Token
			c.mu.Unlock()
			return token, nil
		}

		if c.refreshing {
			// A refresh is already in flight. Serve the stale token if it
			// is still genuinely valid, otherwise wait for the refresh.
			if c.cred.Token != "" && c.cred.Expiry.After(now) {
				token := c.cred.Token
				c.mu.Unlock()
				return token, nil
			}
			done := c.refreshed
			c.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return "", NewProviderError(KindAuth, "credentials.token", ctx.Err())
			}
		}

		c.refreshing = true
		c.refreshed = make(chan struct{})
		c.mu.Unlock()

		cred, err := c.exchanger.ExchangeCredentials(ctx)

		c.mu.Lock()
		c.refreshing = false
		close(c.refreshed)
		if err != nil {
			c.mu.Unlock()
			c.logger.Error("credential exchange failed", zap.Error(err))
			return "", NewProviderError(KindAuth, "credentials.exchange", err)
		}
		c.cred = cred
		c.mu.Unlock()

		c.logger.Debug("credential refreshed", zap.Time("expiry", cred.Expiry))
		return cred.Token, nil
	}
}

// Invalidate drops the cached token so the next Token call re-exchanges.
// Used after the provider reports the token invalid despite its expiry.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	c.cred = Credential{}
	c.mu.Unlock()
}
