// Package api provides the HTTP and WebSocket surface of the dialogue service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/parley/internal/dialog"
	"github.com/ashureev/parley/internal/generation"
	"github.com/ashureev/parley/internal/identity"
	"github.com/ashureev/parley/internal/metrics"
	"github.com/ashureev/parley/internal/nlu"
	"github.com/ashureev/parley/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Options tune a Handler. Zero values fall back to defaults.
type Options struct {
	MaxBodySize   int64
	RateLimiter   *RateLimiter
	Registry      *ConnRegistry
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	AllowedOrigin string
	IsDev         bool
}

// Handler serves chat turns and session management.
type Handler struct {
	svc           *dialog.Service
	validate      *validator.Validate
	limiter       *RateLimiter
	conns         *ConnRegistry
	metrics       *metrics.Metrics
	logger        *slog.Logger
	maxBody       int64
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a Handler around a dialog service.
func NewHandler(svc *dialog.Service, opts Options) *Handler {
	h := &Handler{
		svc:           svc,
		validate:      newValidator(),
		limiter:       opts.RateLimiter,
		conns:         opts.Registry,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		maxBody:       opts.MaxBodySize,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
	}
	if h.conns == nil {
		h.conns = NewConnRegistry()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxRequestBodySize
	}
	return h
}

// RegisterRoutes mounts the chat, session and websocket routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Delete("/sessions/{sessionID}", h.ResetSession)
	})
	r.Get("/ws/chat", h.ServeWS)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errRateLimited is returned when a session exceeds its turn budget.
var errRateLimited = errors.New("rate limit exceeded")

// statusFor maps a turn error onto an HTTP status and a client-facing code.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.As(err, &invalid), errors.Is(err, dialog.ErrEmptyTranscript), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	case errors.Is(err, nlu.ErrClassifierUnavailable):
		return http.StatusBadGateway, "classifier unavailable"
	case errors.Is(err, generation.ErrGenerationUnavailable):
		return http.StatusBadGateway, "generation unavailable"
	case errors.Is(err, session.ErrVersionConflict):
		return http.StatusConflict, "session modified concurrently"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

var errBadRequest = errors.New("malformed request")

// prepare fills request defaults from the identity context, validates it and
// charges the session's rate budget.
func (h *Handler) prepare(ctx context.Context, req *dialog.Request) error {
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(ctx)
	}
	if req.UID == "" {
		req.UID = identity.UserIDFromContext(ctx)
	}
	if err := h.validate.Struct(req); err != nil {
		return err
	}
	if h.limiter != nil && !h.limiter.Allow(req.SessionID) {
		h.metrics.IncRateLimited()
		return errRateLimited
	}
	return nil
}

// newValidator returns a validator that knows the session id format.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("sessionid", func(fl validator.FieldLevel) bool {
		return identity.ValidSessionID(fl.Field().String())
	})
	return v
}

// requestTimeout bounds non-streaming endpoints.
const requestTimeout = 10 * time.Second
