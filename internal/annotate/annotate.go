// Package annotate relays a generation stream to the caller while
// accumulating the reply, then appends the post-hoc annotation.
package annotate

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/generation"
	"github.com/ashureev/parley/internal/nlu"
	"github.com/ashureev/parley/internal/quiz"
	"github.com/tidwall/gjson"
)

// ErrConsumerStopped is reported when the caller stops reading before the
// backend stream is exhausted.
var ErrConsumerStopped = errors.New("stream consumer stopped")

// Hinter maps a rhetorical-pattern intent to its annotation text.
type Hinter interface {
	Hint(intent string) string
}

// Result summarizes one annotated stream.
type Result struct {
	Text      string
	PostHoc   *domain.IntentResult
	Hint      string
	Chunks    int
	Malformed int
	// Complete is false when the stream ended early; Text then holds what was
	// accumulated so far.
	Complete bool
	// ClassifyErr is set when the post-hoc classification failed; the hint is
	// empty in that case.
	ClassifyErr error
	Err         error
}

// Annotator wraps a backend chunk sequence.
type Annotator struct {
	classifier    nlu.Classifier
	hints         Hinter
	stopOnNewline bool
	logger        *slog.Logger
}

// New creates an annotator.
func New(classifier nlu.Classifier, hints Hinter, stopOnNewline bool, logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{
		classifier:    classifier,
		hints:         hints,
		stopOnNewline: stopOnNewline,
		logger:        logger,
	}
}

// Wrap returns the caller-facing sequence: every backend chunk unchanged, then
// a synthetic newline chunk and one annotation chunk. done is called exactly
// once, after the last unit has been yielded or the sequence was abandoned.
func (a *Annotator) Wrap(ctx context.Context, chunks iter.Seq2[[]byte, error], d domain.PromptDirective, done func(Result)) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		var (
			res  Result
			text strings.Builder
		)
		finish := func() {
			res.Text = text.String()
			if done != nil {
				done(res)
			}
		}

		for chunk, err := range chunks {
			if err != nil {
				res.Err = err
				finish()
				yield(nil, err)
				return
			}
			stop := a.accumulate(chunk, &text, &res)
			res.Chunks++
			if !yield(chunk, nil) {
				res.Err = ErrConsumerStopped
				if ctxErr := ctx.Err(); ctxErr != nil {
					res.Err = ctxErr
				}
				finish()
				return
			}
			if stop {
				break
			}
		}

		res.Complete = true
		annotation := a.annotation(ctx, text.String(), d, &res)

		if !yield(generation.SyntheticChunk("\n"), nil) {
			finish()
			return
		}
		yield(generation.SyntheticChunk(annotation), nil)
		finish()
	}
}

// accumulate appends every token text found in the chunk and reports whether
// consumption should stop after it.
func (a *Annotator) accumulate(chunk []byte, text *strings.Builder, res *Result) bool {
	stop := false
	for line := range bytes.SplitSeq(generation.StripPrefix(chunk), []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		token := gjson.GetBytes(line, "token.text")
		if !gjson.ValidBytes(line) || !token.Exists() {
			res.Malformed++
			a.logger.Debug("skipping malformed generation line", "line", string(line))
			continue
		}
		if a.stopOnNewline && token.String() == "\n" && text.Len() > 0 {
			stop = true
		}
		text.WriteString(token.String())
	}
	return stop
}

func (a *Annotator) annotation(ctx context.Context, text string, d domain.PromptDirective, res *Result) string {
	intent, err := a.classifier.Classify(ctx, text)
	if err != nil {
		res.ClassifyErr = err
		a.logger.Warn("post-hoc classification failed", "error", err)
	} else {
		res.PostHoc = &intent
		if !d.IsQuizQuestion && a.hints != nil {
			res.Hint = a.hints.Hint(intent.Name)
		}
	}

	if d.IsQuizQuestion && d.Question != nil {
		return quiz.Render(*d.Question)
	}
	return res.Hint
}
