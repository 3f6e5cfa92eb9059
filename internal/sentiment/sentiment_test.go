package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyThresholds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Positive, Classify(0.5))
	assert.Equal(t, Neutral, Classify(0.2))
	assert.Equal(t, Neutral, Classify(0))
	assert.Equal(t, Negative, Classify(-0.01))
}

func TestLexiconScorer(t *testing.T) {
	t.Parallel()

	s := NewLexiconScorer()
	ctx := context.Background()

	pos, err := s.Score(ctx, "That is a great and interesting point, thanks!")
	require.NoError(t, err)
	assert.Equal(t, Positive, Classify(pos))

	neg, err := s.Score(ctx, "This is stupid nonsense.")
	require.NoError(t, err)
	assert.Equal(t, Negative, Classify(neg))

	neutral, err := s.Score(ctx, "The horizon is at eye level.")
	require.NoError(t, err)
	assert.Equal(t, Neutral, Classify(neutral))

	negated, err := s.Score(ctx, "not good")
	require.NoError(t, err)
	assert.Less(t, negated, 0.0)
}

func TestHTTPScorer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["text"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"polarity": 3.5}`))
	}))
	defer srv.Close()

	score, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	_, err = NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), "")
	assert.True(t, errors.Is(err, ErrScorerUnavailable))
}
