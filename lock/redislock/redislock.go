// Package redislock implements lock.Locker on Redis so several processes
// can share the per-subscription critical section.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/atelier/lock"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultPrefix        = "atelier:lock:"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease can never release a lock taken over by another process.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a lease-based lock.Locker.
type Locker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	prefix        string
	logger        *slog.Logger
}

var _ lock.Locker = (*Locker)(nil)

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lease duration. A holder that dies keeps the key for at
// most this long.
func WithTTL(d time.Duration) Option {
	return func(l *Locker) { l.ttl = d }
}

// WithRetryInterval sets the polling interval while waiting for a key.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) { l.retryInterval = d }
}

// WithPrefix sets the key namespace.
func WithPrefix(p string) Option {
	return func(l *Locker) { l.prefix = p }
}

// WithLogger sets the logger used for release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// New creates a Locker on client.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:        client,
		ttl:           DefaultTTL,
		retryInterval: DefaultRetryInterval,
		prefix:        DefaultPrefix,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewFromURL parses a redis:// URL and creates a Locker on a new client.
func NewFromURL(url string, opts ...Option) (*Locker, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redislock: parse url: %w", err)
	}
	return New(redis.NewClient(redisOpts), opts...), nil
}

// Lock polls SET NX until the key is acquired or ctx ends.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
		}
		if ok {
			return l.releaser(fullKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redislock: acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("redislock: release failed", "key", key, "error", err)
		}
	}
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
