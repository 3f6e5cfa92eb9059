package api

import (
	"context"
	"net/http"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/identity"
	"github.com/go-chi/chi/v5"
)

type sessionResponse struct {
	Phase   domain.Phase         `json:"phase"`
	Session *domain.SessionState `json:"session"`
}

// GetSession returns the stored state of a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !identity.ValidSessionID(id) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	state, err := h.svc.State(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if state == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, sessionResponse{Phase: state.Phase(), Session: state})
}

// ResetSession forgets a session and drops its live websocket connections.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !identity.ValidSessionID(id) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.svc.Reset(ctx, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.conns.CloseSession(id)
	w.WriteHeader(http.StatusNoContent)
}
