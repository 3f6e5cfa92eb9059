package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dialChat(t *testing.T, env *testEnv, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn, ctx
}

func readText(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) wsEvent {
	t.Helper()
	var ev wsEvent
	if err := json.Unmarshal([]byte(readText(t, ctx, conn)), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestWebSocketTurn(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	conn, ctx := dialChat(t, env, "?session_id=ws-1")

	ev := readEvent(t, ctx, conn)
	if ev.Type != eventSession || ev.SessionID != "ws-1" {
		t.Fatalf("unexpected greeting %+v", ev)
	}
	if n := env.handler.conns.Count("ws-1"); n != 1 {
		t.Fatalf("expected registered connection, got %d", n)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(chatBody("", "Hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readText(t, ctx, conn); got != "header: {\"dialog_success\":false}\n\n" {
		t.Fatalf("expected header first, got %q", got)
	}
	units := 0
	for {
		msg := readText(t, ctx, conn)
		if strings.HasPrefix(msg, `{"type":"end"`) {
			break
		}
		units++
	}
	if units != 4 {
		t.Errorf("expected 4 body units, got %d", units)
	}

	state, err := env.store.Get(ctx, "ws-1")
	if err != nil || state == nil || state.Turns != 1 {
		t.Fatalf("expected one committed turn, got %+v, %v", state, err)
	}
}

func TestWebSocketErrorsKeepConnection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	conn, ctx := dialChat(t, env, "?session_id=ws-2")
	readEvent(t, ctx, conn)

	if err := conn.Write(ctx, websocket.MessageText, []byte(chatBody("other", "Hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, ctx, conn)
	if ev.Type != eventError || ev.Status != 400 {
		t.Fatalf("expected 400 error frame, got %+v", ev)
	}

	env.classifier.down.Store(true)
	if err := conn.Write(ctx, websocket.MessageText, []byte(chatBody("", "Hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readEvent(t, ctx, conn)
	if ev.Type != eventError || ev.Status != 502 {
		t.Fatalf("expected 502 error frame, got %+v", ev)
	}

	env.classifier.down.Store(false)
	if err := conn.Write(ctx, websocket.MessageText, []byte(chatBody("", "Hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readText(t, ctx, conn); !strings.HasPrefix(got, "header: ") {
		t.Fatalf("expected header after recovery, got %q", got)
	}
}

func TestWebSocketAssignsSessionID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	conn, ctx := dialChat(t, env, "")

	ev := readEvent(t, ctx, conn)
	if ev.Type != eventSession || ev.SessionID == "" {
		t.Fatalf("expected generated session id, got %+v", ev)
	}
}

func TestResetClosesWebSocket(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	conn, ctx := dialChat(t, env, "?session_id=ws-3")
	readEvent(t, ctx, conn)

	if n := env.handler.conns.CloseSession("ws-3"); n != 1 {
		t.Fatalf("expected one closed connection, got %d", n)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}
