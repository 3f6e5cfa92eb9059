package dialog

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/parley/internal/annotate"
	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/generation"
	"github.com/ashureev/parley/internal/turnlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Turn is a resolved turn whose reply is still streaming.
type Turn struct {
	ID        string
	Header    Header
	Directive domain.PromptDirective
	Phase     domain.Phase

	svc    *Service
	req    Request
	intent domain.IntentResult
	prompt string
	stream *generation.Stream
	start  time.Time
	logger *slog.Logger

	used     bool
	finished sync.Once
}

// Units yields the header unit first, then every relayed backend chunk, then
// the newline marker and the annotation. It may be ranged over once.
func (t *Turn) Units(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if t.used {
			return
		}
		t.used = true

		ctx, span := tracer.Start(ctx, "dialog.Stream")
		defer span.End()
		t.svc.metrics.StreamStarted()
		defer t.svc.metrics.StreamFinished()

		if !yield(t.Header.Unit(), nil) {
			t.finish(annotate.Result{Err: annotate.ErrConsumerStopped})
			return
		}

		body := t.svc.annotator.Wrap(ctx, t.stream.Chunks(), t.Directive, func(res annotate.Result) {
			span.SetAttributes(
				attribute.Int("chunks", res.Chunks),
				attribute.Bool("complete", res.Complete),
				attribute.Bool("hint", res.Hint != ""),
			)
			if res.Err != nil {
				span.SetStatus(codes.Error, res.Err.Error())
			}
			t.finish(res)
		})
		for unit, err := range body {
			if !yield(unit, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the backend stream. A turn closed before its stream was
// drained is logged as incomplete.
func (t *Turn) Close() error {
	t.finish(annotate.Result{Err: annotate.ErrConsumerStopped})
	return nil
}

// finish runs exactly once per turn: it closes the backend stream, updates
// the hint streak and writes the turn record.
func (t *Turn) finish(res annotate.Result) {
	t.finished.Do(func() {
		if err := t.stream.Close(); err != nil {
			t.logger.Debug("closing generation stream", "error", err)
		}
		svc := t.svc

		svc.metrics.AddChunks(res.Chunks, res.Malformed)
		if res.Hint != "" && res.PostHoc != nil {
			svc.metrics.IncHint(res.PostHoc.Name)
		}

		if res.Complete && res.ClassifyErr == nil && t.mainFlow() {
			svc.updateHintStreak(t.req.SessionID, res.Hint != "", t.logger)
		}

		outcome := outcomeOK
		if !res.Complete {
			outcome = outcomeIncomplete
		}
		svc.metrics.ObserveTurn(outcome, string(t.Directive.Kind), svc.now().Sub(t.start))

		rec := turnlog.Record{
			Messages:      t.req.Messages,
			SessionID:     t.req.SessionID,
			LLMParameters: t.req.LLMParameters,
			NLUResponse:   t.intent.Raw,
			Prompt:        t.prompt,
			Success:       t.Header.DialogSuccess,
			Time:          t.start,
			UID:           t.req.UID,
			LLMResponse:   res.Text,
			TurnID:        t.ID,
			ChatbotID:     t.req.ChatbotID,
			Directive:     string(t.Directive.Kind),
			Phase:         string(t.Phase),
			Hint:          res.Hint != "",
			Malformed:     res.Malformed,
			Incomplete:    !res.Complete,
		}
		if res.PostHoc != nil {
			rec.PostHocIntent = res.PostHoc.Name
		}
		switch {
		case res.Err != nil:
			rec.Error = res.Err.Error()
		case res.ClassifyErr != nil:
			rec.Error = "post-hoc classification: " + res.ClassifyErr.Error()
		}
		svc.turnLog.Log(rec)

		t.logger.Info("turn finished",
			"complete", res.Complete,
			"chunks", res.Chunks,
			"malformed", res.Malformed,
			"hint", res.Hint != "",
			"duration", svc.now().Sub(t.start),
		)
	})
}

// mainFlow reports whether the directive belongs to the argumentative
// dialogue rather than the quiz or the closure.
func (t *Turn) mainFlow() bool {
	d := t.Directive
	return !d.IsTerminal && !d.IsQuizQuestion && d.QuizFeedback == nil
}
