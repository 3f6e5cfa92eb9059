package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/generation"
)

func TestChatStreamsHeaderThenUnits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.post(chatBody("s1", "Hello"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	if rec.Header().Get("X-Turn-ID") == "" {
		t.Error("expected turn id header")
	}

	body := rec.Body.String()
	wantPrefix := "header: {\"dialog_success\":false}\n\n" + backendReply + string(generation.SyntheticChunk("\n"))
	if !strings.HasPrefix(body, wantPrefix) {
		t.Fatalf("unexpected stream:\n%s", body)
	}
	if strings.Count(body, "header: ") != 1 {
		t.Errorf("expected exactly one header, got:\n%s", body)
	}

	state, err := env.store.Get(context.Background(), "s1")
	if err != nil || state == nil {
		t.Fatalf("expected stored session, got %v, %v", state, err)
	}
	if state.Turns != 1 {
		t.Errorf("expected 1 turn, got %d", state.Turns)
	}
}

func TestChatTerminationAnnouncesSuccess(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.post(chatBody("s1", "bye"))
	if !strings.HasPrefix(rec.Body.String(), "header: {\"dialog_success\":true}\n\n") {
		t.Fatalf("expected success header, got:\n%s", rec.Body.String())
	}
}

func TestChatSessionFromHeader(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	req := httptestRequest(http.MethodPost, "/api/chat", chatBody("", "Hello"))
	req.Header.Set("X-Parley-Session-ID", "from-header")
	rec := serve(env, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	state, _ := env.store.Get(context.Background(), "from-header")
	if state == nil {
		t.Fatal("expected session keyed by header id")
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{MaxBodySize: 512})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", "{", http.StatusBadRequest},
		{"no messages", `{"messages":[],"session_id":"s1"}`, http.StatusBadRequest},
		{"missing session", chatBody("", "Hello"), http.StatusBadRequest},
		{"bad session id", chatBody("a b", "Hello"), http.StatusBadRequest},
		{"too large", chatBody("s1", strings.Repeat("x", 1024)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.post(tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestChatClassifierDownIsBadGateway(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.classifier.down.Store(true)

	rec := env.post(chatBody("s1", "Hello"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if got["error"] != "classifier unavailable" {
		t.Errorf("unexpected error %q", got["error"])
	}
	if state, _ := env.store.Get(context.Background(), "s1"); state != nil {
		t.Error("failed turn must not create a session")
	}
}

func TestChatGenerationDownIsBadGateway(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.backend.Close()

	rec := env.post(chatBody("s1", "Hello"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChatRateLimitedPerSession(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1)
	defer rl.Stop()
	env := newTestEnv(t, Options{RateLimiter: rl})

	if rec := env.post(chatBody("s1", "Hello")); rec.Code != http.StatusOK {
		t.Fatalf("first turn: expected 200, got %d", rec.Code)
	}
	if rec := env.post(chatBody("s1", "Hello")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second turn: expected 429, got %d", rec.Code)
	}
	if rec := env.post(chatBody("s2", "Hello")); rec.Code != http.StatusOK {
		t.Fatalf("other session: expected 200, got %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	if rec := serve(env, httptestRequest(http.MethodGet, "/api/sessions/s1", "")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first turn, got %d", rec.Code)
	}

	env.post(chatBody("s1", "bye"))

	rec := serve(env, httptestRequest(http.MethodGet, "/api/sessions/s1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != domain.PhaseTerminated || got.Session == nil || !got.Session.Closed {
		t.Fatalf("unexpected session response %+v", got)
	}

	if rec := serve(env, httptestRequest(http.MethodDelete, "/api/sessions/s1", "")); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := serve(env, httptestRequest(http.MethodGet, "/api/sessions/s1", "")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after reset, got %d", rec.Code)
	}
	if rec := serve(env, httptestRequest(http.MethodGet, "/api/sessions/a%20b", "")); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}
}
