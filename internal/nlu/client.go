// Package nlu talks to the intent classification oracle.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/parley/internal/domain"
	"github.com/tidwall/gjson"
)

var (
	// ErrClassifierUnavailable covers network failures, timeouts and non-2xx
	// responses from the oracle.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrMalformedResponse is returned when the oracle answers without an intent.
	ErrMalformedResponse = errors.New("classifier response has no intent")
)

// maxResponseBytes caps how much of a classifier response is read.
const maxResponseBytes = 1 << 20

// Classifier returns the intent of an utterance.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.IntentResult, error)
}

// Client is an HTTP classifier client for a Rasa-style /model/parse endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a classifier client. A non-positive timeout falls back
// to ten seconds.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

var _ Classifier = (*Client)(nil)

// Classify posts {"text": text} and parses {"intent": {"name", "confidence"}}.
// The full response body is kept as the result's raw payload.
func (c *Client) Classify(ctx context.Context, text string) (domain.IntentResult, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("There was a problem connecting to the classifier", "url", c.url, "error", err)
		return domain.IntentResult{}, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close classifier response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("%w: read body: %w", ErrClassifierUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.IntentResult{}, fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode)
	}

	return Parse(raw)
}

// Parse extracts the intent from an oracle response body.
func Parse(raw []byte) (domain.IntentResult, error) {
	if !gjson.ValidBytes(raw) {
		return domain.IntentResult{}, ErrMalformedResponse
	}
	name := gjson.GetBytes(raw, "intent.name")
	if !name.Exists() || name.String() == "" {
		return domain.IntentResult{}, ErrMalformedResponse
	}
	return domain.IntentResult{
		Name:       name.String(),
		Confidence: gjson.GetBytes(raw, "intent.confidence").Float(),
		Raw:        json.RawMessage(raw),
	}, nil
}
