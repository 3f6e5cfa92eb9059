package session

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// EvictionPolicy bounds how many sessions a store keeps. Zero values disable
// the corresponding limit.
type EvictionPolicy struct {
	// MaxEntries evicts the least recently used sessions above this count.
	MaxEntries int
	// IdleTTL evicts sessions not touched for this long.
	IdleTTL time.Duration
}

// Enabled reports whether any limit is set.
func (p EvictionPolicy) Enabled() bool {
	return p.MaxEntries > 0 || p.IdleTTL > 0
}

// StoreOption configures a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	sqlitePath  string
	eviction    EvictionPolicy
	logger      *slog.Logger
	now         func() time.Time
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithSQLitePath sets the database file used by the sqlite driver.
func WithSQLitePath(path string) StoreOption {
	return func(c *storeConfig) {
		c.sqlitePath = path
	}
}

// WithEviction sets the eviction policy. The redis driver maps IdleTTL onto
// key expiry and ignores MaxEntries.
func WithEviction(p EvictionPolicy) StoreOption {
	return func(c *storeConfig) {
		c.eviction = p
	}
}

// WithLogger sets the logger used for driver warnings.
func WithLogger(l *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = l
	}
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}
