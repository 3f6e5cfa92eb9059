package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/parley/internal/dialog"
	"github.com/ashureev/parley/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Control frames exchanged next to the stream units.
const (
	eventSession = "session"
	eventEnd     = "end"
	eventError   = "error"
)

type wsEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

var errSessionMismatch = errors.New("session id does not match connection")

// ServeWS handles GET /ws/chat. The connection is bound to one session; every
// inbound text message is a chat request and every stream unit goes out as
// its own text message, followed by an end frame.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := h.logger.With("session_id", sessionID, "user_id", userID)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(h.maxBody)

	h.conns.Register(sessionID, userID, ws)
	defer h.conns.Unregister(sessionID, userID, ws)

	ctx := r.Context()
	if err := writeEvent(ctx, ws, wsEvent{Type: eventSession, SessionID: sessionID}); err != nil {
		return
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("websocket closed by client")
			} else {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := h.wsTurn(ctx, ws, sessionID, data, logger); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// wsTurn runs one turn on the connection. Only write failures are returned;
// turn errors are reported to the client as error frames.
func (h *Handler) wsTurn(ctx context.Context, ws *websocket.Conn, sessionID string, data []byte, logger *slog.Logger) error {
	var req dialog.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return h.writeError(ctx, ws, fmt.Errorf("%w: %w", errBadRequest, err), logger)
	}
	switch req.SessionID {
	case "":
		req.SessionID = sessionID
	case sessionID:
	default:
		return h.writeError(ctx, ws, fmt.Errorf("%w: %w", errBadRequest, errSessionMismatch), logger)
	}
	if err := h.prepare(ctx, &req); err != nil {
		return h.writeError(ctx, ws, err, logger)
	}

	turn, err := h.svc.Turn(ctx, req)
	if err != nil {
		return h.writeError(ctx, ws, err, logger)
	}
	defer turn.Close()

	for unit, err := range turn.Units(ctx) {
		if err != nil {
			logger.Warn("turn stream ended early", "turn_id", turn.ID, "error", err)
			break
		}
		if err := ws.Write(ctx, websocket.MessageText, unit); err != nil {
			return err
		}
	}
	return writeEvent(ctx, ws, wsEvent{Type: eventEnd, SessionID: sessionID, TurnID: turn.ID})
}

func (h *Handler) writeError(ctx context.Context, ws *websocket.Conn, err error, logger *slog.Logger) error {
	status, msg := statusFor(err)
	logger.Warn("websocket turn failed", "status", status, "error", err)
	return writeEvent(ctx, ws, wsEvent{Type: eventError, Status: status, Error: msg})
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
