package session

import (
	"log/slog"
	"time"
)

// StoreType names a session store driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// NewStore creates a store for the given driver. The redis driver requires
// WithRedisClient; the sqlite driver requires WithSQLitePath.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	switch storeType {
	case StoreTypeMemory, "":
		return newMemoryStore(cfg), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg), nil
	case StoreTypeSQLite:
		if cfg.sqlitePath == "" {
			return nil, ErrInvalidConfig
		}
		return newSQLiteStore(cfg)
	default:
		return nil, ErrInvalidStoreType
	}
}
