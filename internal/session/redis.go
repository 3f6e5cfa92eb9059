package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/parley/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "parley:session:"

// redisStore shares sessions across processes. Values are msgpack-encoded;
// a zero TTL keeps keys forever.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func newRedisStore(cfg *storeConfig) *redisStore {
	return &redisStore{
		client: cfg.redisClient,
		ttl:    cfg.eviction.IdleTTL,
		now:    cfg.now,
	}
}

func (s *redisStore) key(id string) string {
	return redisKeyPrefix + id
}

func (s *redisStore) Create(ctx context.Context, state *domain.SessionState) error {
	now := s.now()
	state.CreatedAt = now
	state.UpdatedAt = now
	state.Version = 1

	val, err := encodeState(state)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(state.ID), val, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", state.ID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*domain.SessionState, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	state, err := decodeState(val)
	if err != nil {
		return nil, err
	}
	if s.ttl > 0 {
		// Refresh on read; a failure only shortens the session's life.
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return state, nil
}

// Update uses WATCH/MULTI/EXEC so that concurrent writers from other
// processes surface as ErrVersionConflict.
func (s *redisStore) Update(ctx context.Context, state *domain.SessionState) error {
	key := s.key(state.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		stored, err := decodeState(val)
		if err != nil {
			return err
		}
		if stored.Version != state.Version {
			return ErrVersionConflict
		}

		next := state.Clone()
		next.Version++
		next.UpdatedAt = s.now()
		newVal, err := encodeState(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		state.Version = next.Version
		state.UpdatedAt = next.UpdatedAt
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("update session %s: %w", state.ID, err)
	}
	return err
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
