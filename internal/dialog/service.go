package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/parley/internal/annotate"
	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/generation"
	"github.com/ashureev/parley/internal/metrics"
	"github.com/ashureev/parley/internal/nlu"
	"github.com/ashureev/parley/internal/prompt"
	"github.com/ashureev/parley/internal/sentiment"
	"github.com/ashureev/parley/internal/session"
	"github.com/ashureev/parley/internal/strategy"
	"github.com/ashureev/parley/internal/turnlog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("parley/dialog")

// postStreamTimeout bounds the hint-streak commit after a stream ends; the
// request context may already be gone by then.
const postStreamTimeout = 5 * time.Second

// Deps are the collaborators of a Service. Classifier, Resolver, Store,
// Builder and Generator are required.
type Deps struct {
	Classifier    nlu.Classifier
	Resolver      strategy.Resolver
	Store         session.Store
	Locker        *session.Locker
	Builder       *prompt.Builder
	Scorer        sentiment.Scorer
	Generator     generation.Opener
	TurnLog       turnlog.Logger
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	StopOnNewline bool
}

// Service runs dialogue turns.
type Service struct {
	classifier nlu.Classifier
	resolver   strategy.Resolver
	store      session.Store
	locker     *session.Locker
	builder    *prompt.Builder
	scorer     sentiment.Scorer
	generator  generation.Opener
	annotator  *annotate.Annotator
	turnLog    turnlog.Logger
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewService validates deps and fills optional ones with defaults.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Classifier == nil:
		return nil, errors.New("dialog: classifier is required")
	case d.Resolver == nil:
		return nil, errors.New("dialog: resolver is required")
	case d.Store == nil:
		return nil, errors.New("dialog: session store is required")
	case d.Builder == nil:
		return nil, errors.New("dialog: prompt builder is required")
	case d.Generator == nil:
		return nil, errors.New("dialog: generator is required")
	}
	if d.Locker == nil {
		d.Locker = session.NewLocker()
	}
	if d.Scorer == nil {
		d.Scorer = sentiment.NewLexiconScorer()
	}
	if d.TurnLog == nil {
		d.TurnLog = turnlog.Noop()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	return &Service{
		classifier: d.Classifier,
		resolver:   d.Resolver,
		store:      d.Store,
		locker:     d.Locker,
		builder:    d.Builder,
		scorer:     d.Scorer,
		generator:  d.Generator,
		annotator:  annotate.New(d.Classifier, d.Builder.Templates(), d.StopOnNewline, d.Logger),
		turnLog:    d.TurnLog,
		metrics:    d.Metrics,
		logger:     d.Logger,
		now:        time.Now,
	}, nil
}

// Turn runs everything up to an open generation stream under the session
// lock: classification, strategy resolution, prompt building, stream
// establishment and the state commit. Any failure there leaves the stored
// session untouched. The returned Turn relays the stream; the caller must
// either drain Units or call Close.
func (s *Service) Turn(ctx context.Context, req Request) (_ *Turn, err error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyTranscript
	}
	start := s.now()
	turnID := uuid.NewString()
	logger := s.logger.With("session_id", req.SessionID, "turn_id", turnID)

	ctx, span := tracer.Start(ctx, "dialog.Turn", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("turn.id", turnID),
		attribute.Int("transcript.length", len(req.Messages)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.ObserveTurn(outcomeFor(err), "", s.now().Sub(start))
			logger.Warn("turn failed", "error", err)
		}
		span.End()
	}()

	unlock, err := s.locker.Lock(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()

	stored, existed, err := session.LoadOrNew(ctx, s.store, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	utterance := req.Messages.Latest()
	classifyStart := s.now()
	intent, err := s.classifier.Classify(ctx, utterance)
	s.metrics.ObserveClassify("input", s.now().Sub(classifyStart))
	if err != nil {
		return nil, err
	}

	working := stored.Clone()
	directive := s.resolver.Resolve(intent, working, utterance)
	span.SetAttributes(
		attribute.String("intent.name", intent.Name),
		attribute.Float64("intent.confidence", intent.Confidence),
		attribute.String("directive.kind", string(directive.Kind)),
		attribute.String("phase", string(working.Phase())),
	)
	if directive.QuizFeedback != nil {
		s.metrics.IncQuizGraded(*directive.QuizFeedback)
	}

	polarity := sentiment.Neutral
	if !directive.IsTerminal && !directive.IsQuizQuestion && directive.QuizFeedback == nil {
		polarity = s.polarity(ctx, utterance, logger)
	}
	promptText := s.builder.Build(directive, req.Messages, polarity)

	stream, err := s.generator.Open(ctx, promptText, req.LLMParameters)
	if err != nil {
		return nil, err
	}
	if err := session.Save(ctx, s.store, working, existed); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("commit session: %w", err)
	}

	logger.Info("turn resolved",
		"intent", intent.Name,
		"confidence", intent.Confidence,
		"directive", directive.Kind,
		"phase", working.Phase(),
		"success", directive.Success(),
	)

	t := &Turn{
		ID:        turnID,
		Header:    Header{DialogSuccess: directive.Success()},
		Directive: directive,
		Phase:     working.Phase(),
		svc:       s,
		req:       req,
		intent:    intent,
		prompt:    promptText,
		stream:    stream,
		start:     start,
		logger:    logger,
	}
	return t, nil
}

func (s *Service) polarity(ctx context.Context, utterance string, logger *slog.Logger) sentiment.Polarity {
	score, err := s.scorer.Score(ctx, utterance)
	if err != nil {
		logger.Warn("sentiment scoring failed, assuming neutral", "error", err)
		return sentiment.Neutral
	}
	return sentiment.Classify(score)
}

// State returns the stored session, or nil if it does not exist yet.
func (s *Service) State(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	return s.store.Get(ctx, sessionID)
}

// Reset deletes a session so the next turn starts fresh.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	s.logger.Info("session reset", "session_id", sessionID)
	return nil
}

// updateHintStreak counts consecutive hinted replies on the main flow.
func (s *Service) updateHintStreak(sessionID string, hinted bool, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), postStreamTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		logger.Warn("hint streak not updated", "error", err)
		return
	}
	defer unlock()

	state, err := s.store.Get(ctx, sessionID)
	if err != nil || state == nil {
		logger.Warn("hint streak not updated, session unavailable", "error", err)
		return
	}
	next := state.Quiz.HintStreak + 1
	if !hinted {
		next = 0
	}
	if next == state.Quiz.HintStreak {
		return
	}
	state.Quiz.HintStreak = next
	if err := s.store.Update(ctx, state); err != nil {
		logger.Warn("hint streak not updated", "error", err)
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, nlu.ErrClassifierUnavailable):
		return outcomeClassifierUnavailable
	case errors.Is(err, generation.ErrGenerationUnavailable):
		return outcomeGenerationUnavailable
	case errors.Is(err, session.ErrVersionConflict):
		return outcomeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeError
	}
}
