package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/parley/internal/dialog"
	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/generation"
)

func fakeServer(t *testing.T) (*httptest.Server, *[]dialog.Request) {
	t.Helper()
	var requests []dialog.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/chat":
			var req dialog.Request
			_ = json.NewDecoder(r.Body).Decode(&req)
			requests = append(requests, req)
			success := req.Messages.Latest() == "bye"
			_, _ = w.Write(dialog.Header{DialogSuccess: success}.Unit())
			_, _ = io.WriteString(w, "data:{\"index\":1,\"token\":{\"id\":1,\"text\":\"Hi there\",\"logprob\":0,\"special\":false},\"generated_text\":null,\"details\":null}\n\n")
			_, _ = w.Write(generation.SyntheticChunk("\n"))
			_, _ = w.Write(generation.SyntheticChunk("<p><b>Hint:</b> look closer</p>"))
		case r.URL.Path == "/api/sessions/s1" && r.Method == http.MethodGet:
			state := domain.NewSessionState("s1")
			state.Turns = 3
			state.Set(domain.FlagDisagreed)
			_ = json.NewEncoder(w).Encode(map[string]any{"phase": state.Phase(), "session": state})
		case r.URL.Path == "/api/sessions/s1" && r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestChatOneShot(t *testing.T) {
	srv, requests := fakeServer(t)

	out, err := execute(t, "", "--server", srv.URL, "chat", "-s", "s1", "The", "earth", "is", "round")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Flat Earth Bot: Hi there") {
		t.Errorf("missing reply in output:\n%s", out)
	}
	if !strings.Contains(out, "* Hint: look closer") {
		t.Errorf("missing annotation in output:\n%s", out)
	}
	if len(*requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*requests))
	}
	req := (*requests)[0]
	if req.SessionID != "s1" || req.Messages.Latest() != "The earth is round" || len(req.Messages) != 2 {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestChatInteractiveStopsOnSuccess(t *testing.T) {
	srv, requests := fakeServer(t)

	out, err := execute(t, "hello\n\nbye\nnever sent\n", "--server", srv.URL, "chat", "-s", "s1")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "** dialog succeeded **") {
		t.Errorf("expected success banner:\n%s", out)
	}
	if len(*requests) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(*requests))
	}
	// The second turn carries the whole conversation so far.
	second := (*requests)[1]
	if len(second.Messages) != 4 || second.Messages[2].Text != "Hi there" {
		t.Errorf("unexpected transcript %+v", second.Messages)
	}
}

func TestStateYAML(t *testing.T) {
	srv, _ := fakeServer(t)

	out, err := execute(t, "", "--server", srv.URL, "state", "s1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for _, want := range []string{"id: s1", "phase: ACTIVE", "turns: 3", "- disagreed"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestStateUnknownSession(t *testing.T) {
	srv, _ := fakeServer(t)
	if _, err := execute(t, "", "--server", srv.URL, "state", "nope"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestReset(t *testing.T) {
	srv, _ := fakeServer(t)
	out, err := execute(t, "", "--server", srv.URL, "reset", "s1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "session s1 reset") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestStripTags(t *testing.T) {
	if got := stripTags("<p><b>Hint:</b> look</p>"); got != "Hint: look" {
		t.Errorf("stripTags = %q", got)
	}
}
