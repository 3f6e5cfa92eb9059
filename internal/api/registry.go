package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnRegistry tracks live websocket connections per dialogue session, one
// per user.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]map[string]*websocket.Conn)}
}

// Register records conn for the session; an older connection from the same
// user is closed.
func (m *ConnRegistry) Register(sessionID, userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.active[sessionID]
	if !ok {
		users = make(map[string]*websocket.Conn)
		m.active[sessionID] = users
	}
	if existing, ok := users[userID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	users[userID] = conn
	slog.Debug("chat connection registered", "session_id", sessionID, "user_id", userID)
}

// Unregister forgets conn if it is still the current one.
func (m *ConnRegistry) Unregister(sessionID, userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.active[sessionID]
	if !ok || users[userID] != conn {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.active, sessionID)
	}
}

// CloseSession closes every connection bound to the session.
func (m *ConnRegistry) CloseSession(sessionID string) int {
	m.mu.Lock()
	users := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for userID, conn := range users {
		_ = conn.Close(websocket.StatusNormalClosure, "session reset")
		slog.Info("chat connection closed", "session_id", sessionID, "user_id", userID)
	}
	return len(users)
}

// Count returns the number of live connections for a session.
func (m *ConnRegistry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}
