package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashureev/parley/internal/dialog"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Chat handles POST /api/chat. The reply streams as text/event-stream: the
// header unit first, then the relayed backend units.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req dialog.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err := h.prepare(r.Context(), &req); err != nil {
		h.fail(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turn, err := h.svc.Turn(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer turn.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Turn-ID", turn.ID)
	w.WriteHeader(http.StatusOK)

	logger := h.logger.With("session_id", req.SessionID, "turn_id", turn.ID)
	for unit, err := range turn.Units(r.Context()) {
		if err != nil {
			logger.Warn("turn stream ended early", "error", err)
			return
		}
		if _, err := w.Write(unit); err != nil {
			logger.Debug("client went away", "error", err)
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	level := h.logger.Warn
	if status >= http.StatusInternalServerError {
		level = h.logger.Error
	}
	level("chat request failed",
		"status", status,
		"error", err,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	Error(w, status, msg)
}
