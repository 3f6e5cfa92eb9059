// Package client talks to a parley server and decodes its turn streams.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/parley/internal/dialog"
	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/generation"
	"github.com/ashureev/parley/internal/identity"
	"github.com/tidwall/gjson"
)

// ErrNotFound is returned for an unknown session.
var ErrNotFound = errors.New("session not found")

// StatusError carries a non-2xx server reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// EventKind classifies one decoded stream unit.
type EventKind int

const (
	EventHeader EventKind = iota
	EventToken
	EventAnnotation
)

// Event is one decoded unit of a turn stream.
type Event struct {
	Kind    EventKind
	Success bool
	Text    string
}

// Client is a thin HTTP client for the parley API.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Transport: http.DefaultTransport},
	}
}

// Chat posts one turn and yields its decoded events as they arrive. Tokens
// after the synthetic newline marker are reported as annotations.
func (c *Client) Chat(ctx context.Context, req dialog.Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		body, err := json.Marshal(req)
		if err != nil {
			yield(Event{}, err)
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(body))
		if err != nil {
			yield(Event{}, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(identity.SessionHeaderName, req.SessionID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			yield(Event{}, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			yield(Event{}, readError(resp))
			return
		}

		for ev, err := range Decode(resp.Body) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Decode splits a turn stream into events.
func Decode(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		sc.Split(splitBlankLine)

		annotating := false
		for sc.Scan() {
			unit := sc.Bytes()
			switch {
			case bytes.HasPrefix(unit, []byte("header: ")):
				var h dialog.Header
				if err := json.Unmarshal(unit[len("header: "):], &h); err != nil {
					yield(Event{}, fmt.Errorf("decode header: %w", err))
					return
				}
				if !yield(Event{Kind: EventHeader, Success: h.DialogSuccess}, nil) {
					return
				}
			case bytes.HasPrefix(unit, []byte(generation.DataPrefix)):
				payload := generation.StripPrefix(unit)
				text := gjson.GetBytes(payload, "token.text")
				if !text.Exists() {
					continue
				}
				synthetic := gjson.GetBytes(payload, "index").Int() == -1
				if synthetic && text.String() == "\n" && !annotating {
					annotating = true
					continue
				}
				kind := EventToken
				if annotating {
					kind = EventAnnotation
				}
				if !yield(Event{Kind: kind, Text: text.String()}, nil) {
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			yield(Event{}, err)
		}
	}
}

// State fetches the stored session.
func (c *Client) State(ctx context.Context, sessionID string) (*domain.SessionState, domain.Phase, error) {
	resp, err := c.do(ctx, http.MethodGet, sessionID)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var out struct {
		Phase   domain.Phase         `json:"phase"`
		Session *domain.SessionState `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("decode session: %w", err)
	}
	return out.Session, out.Phase, nil
}

// Reset deletes the session on the server.
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	resp, err := c.do(ctx, http.MethodDelete, sessionID)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) do(ctx context.Context, method, sessionID string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, readError(resp)
	}
	// Buffer the body so the caller can read it after cancel.
	b, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))
	return resp, nil
}

func readError(resp *http.Response) error {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := gjson.GetBytes(b, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(string(b))
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

func splitBlankLine(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF && len(bytes.TrimSpace(data)) > 0 {
		return len(data), data, nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
