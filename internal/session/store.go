// Package session persists per-session dialogue state behind a swappable
// store and serializes turns on the same session.
package session

import (
	"context"
	"errors"

	"github.com/ashureev/parley/internal/domain"
)

var (
	// ErrNotFound is returned by Update when the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyExists is returned by Create for a taken id.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrVersionConflict is returned when the stored version moved on.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrInvalidStoreType is returned by NewStore for an unknown driver.
	ErrInvalidStoreType = errors.New("invalid session store type")
	// ErrInvalidConfig is returned when a driver is missing its options.
	ErrInvalidConfig = errors.New("invalid session store configuration")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session store closed")
)

// Store defines session persistence with optimistic locking.
type Store interface {
	// Create stores a new session with Version set to 1.
	Create(ctx context.Context, state *domain.SessionState) error

	// Get returns a copy of the stored session, or nil if there is none.
	Get(ctx context.Context, id string) (*domain.SessionState, error)

	// Update persists state if its Version matches the stored one, then
	// increments Version and UpdatedAt on the argument.
	Update(ctx context.Context, state *domain.SessionState) error

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Sweeper is implemented by stores that evict entries on a schedule.
type Sweeper interface {
	// Sweep applies the eviction policy and returns how many sessions were
	// removed.
	Sweep(ctx context.Context) (int, error)
}

// LoadOrNew returns the stored session for id, or an uncommitted fresh one.
// The second result reports whether the session already existed.
func LoadOrNew(ctx context.Context, store Store, id string) (*domain.SessionState, bool, error) {
	state, err := store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if state == nil {
		return domain.NewSessionState(id), false, nil
	}
	return state, true, nil
}

// Save creates or updates depending on whether the session existed.
func Save(ctx context.Context, store Store, state *domain.SessionState, existed bool) error {
	if existed {
		return store.Update(ctx, state)
	}
	err := store.Create(ctx, state)
	if errors.Is(err, ErrAlreadyExists) {
		return ErrVersionConflict
	}
	return err
}
