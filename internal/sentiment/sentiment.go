// Package sentiment scores the polarity of user utterances.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// Polarity is the coarse sentiment class used to pick a prompt fragment.
type Polarity string

const (
	Positive Polarity = "positive"
	Neutral  Polarity = "neutral"
	Negative Polarity = "negative"
)

// Thresholds applied to a score in [-1, 1].
const (
	positiveAbove = 0.2
	negativeBelow = 0.0
)

// Classify buckets a score into a polarity.
func Classify(score float64) Polarity {
	switch {
	case score > positiveAbove:
		return Positive
	case score < negativeBelow:
		return Negative
	default:
		return Neutral
	}
}

// Scorer returns a polarity score in [-1, 1].
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// ErrScorerUnavailable is returned when the remote scorer cannot be reached.
var ErrScorerUnavailable = errors.New("sentiment scorer unavailable")

// HTTPScorer calls a remote scoring oracle: POST {"text": ...} returning
// {"polarity": <float>}.
type HTTPScorer struct {
	url        string
	httpClient *http.Client
}

// NewHTTPScorer creates a scorer for the given endpoint.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScorer{url: url, httpClient: &http.Client{Timeout: timeout}}
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return 0, fmt.Errorf("marshal sentiment request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build sentiment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScorerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrScorerUnavailable, resp.StatusCode)
	}

	var out struct {
		Polarity float64 `json:"polarity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode sentiment response: %w", err)
	}
	return clamp(out.Polarity), nil
}

// LexiconScorer is a local word-list scorer used when no remote oracle is
// configured. Negators flip the polarity of the next scored word.
type LexiconScorer struct {
	words map[string]float64
}

// NewLexiconScorer returns a scorer over the built-in lexicon.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{words: lexicon}
}

// Score implements Scorer.
func (l *LexiconScorer) Score(_ context.Context, text string) (float64, error) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	var sum float64
	var hits int
	negate := false
	for _, tok := range tokens {
		if negators[tok] {
			negate = true
			continue
		}
		v, ok := l.words[tok]
		if !ok {
			continue
		}
		if negate {
			v = -v * 0.5
			negate = false
		}
		sum += v
		hits++
	}
	if hits == 0 {
		return 0, nil
	}
	return clamp(sum / float64(hits)), nil
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "doesn't": true,
	"isn't": true, "wasn't": true, "can't": true, "won't": true,
}

var lexicon = map[string]float64{
	"good": 0.7, "great": 0.8, "nice": 0.6, "love": 0.5, "like": 0.3,
	"interesting": 0.5, "thanks": 0.4, "thank": 0.4, "agree": 0.4,
	"amazing": 0.6, "awesome": 0.8, "cool": 0.35, "right": 0.3,
	"true": 0.35, "correct": 0.3, "convinced": 0.5, "wonderful": 1.0,
	"bad": -0.7, "wrong": -0.5, "stupid": -0.8, "ridiculous": -0.33,
	"hate": -0.8, "nonsense": -0.6, "crazy": -0.6, "liar": -0.7,
	"lie": -0.5, "lies": -0.5, "silly": -0.5, "dumb": -0.4,
	"terrible": -1.0, "awful": -1.0, "absurd": -0.5, "idiot": -0.8,
	"false": -0.4, "disagree": -0.4, "boring": -1.0,
}
