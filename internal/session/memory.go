package session

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/parley/internal/domain"
)

type memoryEntry struct {
	state      *domain.SessionState
	lastAccess time.Time
	elem       *list.Element
}

// memoryStore keeps sessions in process. The LRU list front is the most
// recently used session.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	lru      *list.List
	policy   EvictionPolicy
	now      func() time.Time
	logger   *slog.Logger
}

func newMemoryStore(cfg *storeConfig) *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*memoryEntry),
		lru:      list.New(),
		policy:   cfg.eviction,
		now:      cfg.now,
		logger:   cfg.logger,
	}
}

func (s *memoryStore) Create(_ context.Context, state *domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return ErrClosed
	}
	if e, ok := s.sessions[state.ID]; ok && !s.idle(e) {
		return ErrAlreadyExists
	}

	now := s.now()
	state.CreatedAt = now
	state.UpdatedAt = now
	state.Version = 1
	s.put(state, now)
	s.evictOverflow()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return nil, ErrClosed
	}

	e, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	if s.idle(e) {
		s.remove(id)
		return nil, nil
	}
	e.lastAccess = s.now()
	s.lru.MoveToFront(e.elem)
	return e.state.Clone(), nil
}

func (s *memoryStore) Update(_ context.Context, state *domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return ErrClosed
	}

	e, ok := s.sessions[state.ID]
	if !ok || s.idle(e) {
		return ErrNotFound
	}
	if e.state.Version != state.Version {
		return ErrVersionConflict
	}

	now := s.now()
	state.Version++
	state.UpdatedAt = now
	s.put(state, now)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return ErrClosed
	}
	s.remove(id)
	return nil
}

func (s *memoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return ErrClosed
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	s.lru.Init()
	return nil
}

// Sweep drops idle sessions and trims the store to MaxEntries.
func (s *memoryStore) Sweep(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return 0, ErrClosed
	}

	removed := 0
	if s.policy.IdleTTL > 0 {
		for id, e := range s.sessions {
			if s.idle(e) {
				s.remove(id)
				removed++
			}
		}
	}
	removed += s.evictOverflow()
	return removed, nil
}

func (s *memoryStore) put(state *domain.SessionState, now time.Time) {
	if e, ok := s.sessions[state.ID]; ok {
		e.state = state.Clone()
		e.lastAccess = now
		s.lru.MoveToFront(e.elem)
		return
	}
	e := &memoryEntry{state: state.Clone(), lastAccess: now}
	e.elem = s.lru.PushFront(state.ID)
	s.sessions[state.ID] = e
}

func (s *memoryStore) remove(id string) {
	if e, ok := s.sessions[id]; ok {
		s.lru.Remove(e.elem)
		delete(s.sessions, id)
	}
}

func (s *memoryStore) idle(e *memoryEntry) bool {
	return s.policy.IdleTTL > 0 && s.now().Sub(e.lastAccess) > s.policy.IdleTTL
}

func (s *memoryStore) evictOverflow() int {
	if s.policy.MaxEntries <= 0 {
		return 0
	}
	evicted := 0
	for s.lru.Len() > s.policy.MaxEntries {
		oldest := s.lru.Back()
		id := oldest.Value.(string)
		s.remove(id)
		evicted++
		s.logger.Debug("evicted least recently used session", "session_id", id)
	}
	return evicted
}
