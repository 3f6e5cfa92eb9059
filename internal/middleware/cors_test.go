package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins, "X-Parley-Session-ID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/chat", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSExplicitOrigin(t *testing.T) {
	t.Parallel()

	rec := serve([]string{"http://app.example"}, http.MethodPost, "http://app.example")
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected request to pass through, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials for explicit origin")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Parley-Session-ID" {
		t.Fatalf("unexpected allow-headers %q", got)
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	t.Parallel()

	rec := serve([]string{"*"}, http.MethodGet, "http://other.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://other.example" {
		t.Fatal("expected wildcard to echo origin")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard must not allow credentials")
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	t.Parallel()

	rec := serve([]string{"http://app.example"}, http.MethodGet, "http://evil.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected allow-origin for unknown origin")
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	rec := serve([]string{"http://app.example"}, http.MethodOptions, "http://app.example")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
