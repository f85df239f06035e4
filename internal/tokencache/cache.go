// Package tokencache keeps a short-lived snapshot of registered device tokens
// so a processing run reads the registry once.
package tokencache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"azaan/internal/observability"
	"azaan/internal/store"
)

const DefaultTTL = 5 * time.Minute

type Store interface {
	ListTokens(ctx context.Context) ([]store.RecipientToken, error)
	DeleteTokenByValue(ctx context.Context, token string) (bool, error)
}

type Cache struct {
	Store  Store
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time

	mu        sync.Mutex
	tokens    []store.RecipientToken
	fetchedAt time.Time
	loaded    bool
}

func New(s Store, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{Store: s, TTL: ttl, Logger: log}
}

// Recipients returns the cached tokens, refreshing them once the TTL has
// passed. If a refresh fails and a previous snapshot exists, the stale
// snapshot is returned and the error is only logged.
func (c *Cache) Recipients(ctx context.Context) ([]store.RecipientToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.loaded && now.Sub(c.fetchedAt) < c.ttl() {
		return c.snapshot(), nil
	}

	tokens, err := c.Store.ListTokens(ctx)
	if err != nil {
		if c.loaded {
			c.logger().WarnContext(ctx, "token refresh failed, serving stale snapshot", "err", err, "age", now.Sub(c.fetchedAt))
			return c.snapshot(), nil
		}
		return nil, err
	}
	c.tokens = tokens
	c.fetchedAt = now
	c.loaded = true
	return c.snapshot(), nil
}

// Invalidate forces the next Recipients call to reload from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.tokens = nil
	c.mu.Unlock()
}

// DeleteTokenByValue removes an invalid token from the registry and drops the
// snapshot so later runs do not send to it again.
func (c *Cache) DeleteTokenByValue(ctx context.Context, token string) (bool, error) {
	ok, err := c.Store.DeleteTokenByValue(ctx, token)
	if err != nil {
		return false, err
	}
	if ok {
		observability.TokensRemoved.Inc()
	}
	c.Invalidate()
	return ok, nil
}

func (c *Cache) snapshot() []store.RecipientToken {
	out := make([]store.RecipientToken, len(c.tokens))
	copy(out, c.tokens)
	return out
}

func (c *Cache) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultTTL
	}
	return c.TTL
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
