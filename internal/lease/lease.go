// Package lease serialises dispatch of one (prayer, day) across processes
// that share the same queue.
package lease

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// Locker hands out at most one live lease per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context), ok bool, err error)
}

// Key is the lease name for one queue entry.
func Key(prayer, dayDate string) string {
	return "azaan:dispatch:" + prayer + ":" + dayDate
}

// Nop grants every lease. Used when no Redis is configured; the queue and
// the ledger still dedupe on their own.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}

type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another process is left alone.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

type Redis struct {
	Client Client
	TTL    time.Duration
}

// NewRedis connects to url (redis:// or rediss://) and pings it.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	if opts.TLSConfig == nil && strings.HasPrefix(url, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{Client: rdb, TTL: ttl}, rdb, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(context.Context), bool, error) {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		_ = r.Client.Eval(ctx, releaseScript, []string{key}, token).Err()
	}
	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
