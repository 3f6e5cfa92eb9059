// Package generation talks to the streaming text-generation backend.
package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"
)

// ErrGenerationUnavailable is returned when the backend cannot be reached or
// rejects the request before streaming starts.
var ErrGenerationUnavailable = errors.New("generation backend unavailable")

const maxChunkSize = 1 << 20

// Opener opens a generation stream for a prompt.
type Opener interface {
	Open(ctx context.Context, prompt string, params json.RawMessage) (*Stream, error)
}

// Client opens streams against a text-generation-inference style endpoint.
type Client struct {
	url        string
	user       string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client. headerTimeout bounds connection setup and the
// wait for response headers; the body itself streams without a deadline.
func NewClient(url string, headerTimeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	c := &Client{
		url:        url,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Inputs     string          `json:"inputs"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Open posts the prompt and returns once the backend has answered with a
// success status. The caller must Close the stream.
func (c *Client) Open(ctx context.Context, prompt string, params json.RawMessage) (*Stream, error) {
	if len(params) == 0 || string(params) == "null" {
		params = nil
	}
	body, err := json.Marshal(generateRequest{Inputs: prompt, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		c.logger.Warn("generation backend rejected request",
			"status", resp.StatusCode,
			"body", string(snippet),
		)
		return nil, fmt.Errorf("%w: status %d", ErrGenerationUnavailable, resp.StatusCode)
	}
	return &Stream{body: resp.Body}, nil
}

// Stream is an open generation response.
type Stream struct {
	body io.ReadCloser
}

// NewStream wraps an arbitrary reader, mostly for tests and replays.
func NewStream(r io.ReadCloser) *Stream {
	return &Stream{body: r}
}

// Chunks yields each event unit (data line plus terminating blank line)
// byte for byte. A trailing unit without a blank line is yielded as is.
// Iteration stops on the first read error, which is yielded last.
func (s *Stream) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		sc := bufio.NewScanner(s.body)
		sc.Buffer(make([]byte, 0, 4096), maxChunkSize)
		sc.Split(splitUnits)
		for sc.Scan() {
			chunk := bytes.Clone(sc.Bytes())
			if !yield(chunk, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, fmt.Errorf("read generation stream: %w", err))
		}
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

var unitSep = []byte("\n\n")

// splitUnits is a bufio.SplitFunc that keeps the "\n\n" separator attached.
func splitUnits(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, unitSep); i >= 0 {
		return i + len(unitSep), data[:i+len(unitSep)], nil
	}
	if atEOF {
		if len(bytes.TrimSpace(data)) == 0 {
			return len(data), nil, nil
		}
		return len(data), data, nil
	}
	return 0, nil, nil
}
