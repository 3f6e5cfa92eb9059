package annotate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/generation"
	"github.com/ashureev/parley/internal/nlu"
	"github.com/ashureev/parley/internal/quiz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	mu     sync.Mutex
	intent domain.IntentResult
	err    error
	seen   []string
}

func (f *fakeClassifier) Classify(_ context.Context, text string) (domain.IntentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, text)
	return f.intent, f.err
}

type hintMap map[string]string

func (h hintMap) Hint(intent string) string { return h[intent] }

func tokenChunk(i int, text string) []byte {
	return []byte(fmt.Sprintf("data:{\"index\":%d,\"token\":{\"id\":%d,\"text\":%q,\"logprob\":-0.5,\"special\":false},\"generated_text\":null,\"details\":null}\n\n", i, i, text))
}

func seqOf(chunks ...[]byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func drain(t *testing.T, seq iter.Seq2[[]byte, error]) []string {
	t.Helper()
	var out []string
	for c, err := range seq {
		require.NoError(t, err)
		out = append(out, string(c))
	}
	return out
}

var _ nlu.Classifier = (*fakeClassifier)(nil)

func TestWrapPassThroughAndHint(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{intent: domain.IntentResult{Name: domain.IntentNefarious, Confidence: 0.9}}
	a := New(cls, hintMap{domain.IntentNefarious: "HINT"}, true, nil)

	in := [][]byte{tokenChunk(1, "They"), tokenChunk(2, " lie")}
	var res Result
	calls := 0
	out := drain(t, a.Wrap(context.Background(), seqOf(in...), domain.PromptDirective{Kind: domain.KindDisagreement}, func(r Result) {
		calls++
		res = r
	}))

	require.Len(t, out, 4)
	assert.Equal(t, string(in[0]), out[0])
	assert.Equal(t, string(in[1]), out[1])
	assert.Equal(t, string(generation.SyntheticChunk("\n")), out[2])
	assert.Equal(t, string(generation.SyntheticChunk("HINT")), out[3])

	assert.Equal(t, 1, calls)
	assert.True(t, res.Complete)
	assert.Equal(t, "They lie", res.Text)
	assert.Equal(t, "HINT", res.Hint)
	assert.Equal(t, []string{"They lie"}, cls.seen)
	require.NotNil(t, res.PostHoc)
	assert.Equal(t, domain.IntentNefarious, res.PostHoc.Name)
}

func TestWrapNoHintForOtherIntents(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{intent: domain.IntentResult{Name: domain.IntentGreeting}}
	a := New(cls, hintMap{domain.IntentNefarious: "HINT"}, true, nil)

	out := drain(t, a.Wrap(context.Background(), seqOf(tokenChunk(1, "Hi")), domain.PromptDirective{}, nil))
	assert.Equal(t, string(generation.SyntheticChunk("")), out[len(out)-1])
}

func TestWrapSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	a := New(&fakeClassifier{}, nil, true, nil)
	var res Result
	bad := []byte("data:{not json\n\n")
	noToken := []byte("data:{\"index\":3}\n\n")
	out := drain(t, a.Wrap(context.Background(), seqOf(tokenChunk(1, "a"), bad, noToken, tokenChunk(2, "b")), domain.PromptDirective{}, func(r Result) { res = r }))

	assert.Len(t, out, 6)
	assert.Equal(t, string(bad), out[1])
	assert.Equal(t, "ab", res.Text)
	assert.Equal(t, 2, res.Malformed)
	assert.Equal(t, 4, res.Chunks)
}

func TestWrapStopsAfterNewlineToken(t *testing.T) {
	t.Parallel()

	a := New(&fakeClassifier{}, nil, true, nil)
	var res Result
	in := seqOf(tokenChunk(1, "\n"), tokenChunk(2, "Sure"), tokenChunk(3, "\n"), tokenChunk(4, "User:"))
	out := drain(t, a.Wrap(context.Background(), in, domain.PromptDirective{}, func(r Result) { res = r }))

	// The leading newline does not stop; the one after text does, and its
	// chunk is still relayed.
	require.Len(t, out, 5)
	assert.Equal(t, "\nSure\n", res.Text)
	assert.NotContains(t, strings.Join(out, ""), "User:")
	assert.True(t, res.Complete)
}

func TestWrapStopOnNewlineDisabled(t *testing.T) {
	t.Parallel()

	a := New(&fakeClassifier{}, nil, false, nil)
	var res Result
	in := seqOf(tokenChunk(1, "Sure"), tokenChunk(2, "\n"), tokenChunk(3, "more"))
	drain(t, a.Wrap(context.Background(), in, domain.PromptDirective{}, func(r Result) { res = r }))

	assert.Equal(t, "Sure\nmore", res.Text)
}

func TestWrapQuizQuestionAnnotation(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{intent: domain.IntentResult{Name: domain.IntentNefarious}}
	a := New(cls, hintMap{domain.IntentNefarious: "HINT"}, true, nil)
	q := quiz.Bank[0]
	var res Result
	out := drain(t, a.Wrap(context.Background(), seqOf(tokenChunk(1, "Here is the quiz")), domain.PromptDirective{IsQuizQuestion: true, Question: &q}, func(r Result) { res = r }))

	assert.Equal(t, string(generation.SyntheticChunk(quiz.Render(q))), out[len(out)-1])
	assert.Empty(t, res.Hint)
	require.NotNil(t, res.PostHoc)
}

func TestWrapClassifierFailureDegrades(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{err: nlu.ErrClassifierUnavailable}
	a := New(cls, hintMap{domain.IntentNefarious: "HINT"}, true, nil)
	var res Result
	out := drain(t, a.Wrap(context.Background(), seqOf(tokenChunk(1, "x")), domain.PromptDirective{}, func(r Result) { res = r }))

	assert.Len(t, out, 3)
	assert.True(t, res.Complete)
	assert.Empty(t, res.Hint)
	assert.Nil(t, res.PostHoc)
	assert.ErrorIs(t, res.ClassifyErr, nlu.ErrClassifierUnavailable)
}

func TestWrapConsumerStops(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{}
	a := New(cls, nil, true, nil)
	var res Result
	calls := 0
	for range a.Wrap(context.Background(), seqOf(tokenChunk(1, "a"), tokenChunk(2, "b")), domain.PromptDirective{}, func(r Result) {
		calls++
		res = r
	}) {
		break
	}

	assert.Equal(t, 1, calls)
	assert.False(t, res.Complete)
	assert.Equal(t, "a", res.Text)
	assert.ErrorIs(t, res.Err, ErrConsumerStopped)
	assert.Empty(t, cls.seen)
}

func TestWrapBackendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	src := func(yield func([]byte, error) bool) {
		if !yield(tokenChunk(1, "par"), nil) {
			return
		}
		yield(nil, boom)
	}
	a := New(&fakeClassifier{}, nil, true, nil)
	var res Result
	var gotErr error
	n := 0
	for c, err := range a.Wrap(context.Background(), src, domain.PromptDirective{}, func(r Result) { res = r }) {
		if err != nil {
			gotErr = err
			break
		}
		_ = c
		n++
	}

	assert.Equal(t, 1, n)
	assert.ErrorIs(t, gotErr, boom)
	assert.False(t, res.Complete)
	assert.Equal(t, "par", res.Text)
}
