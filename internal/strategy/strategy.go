// Package strategy resolves each turn into a prompt directive and applies the
// corresponding session-state transitions.
package strategy

import (
	"fmt"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/quiz"
)

// Resolver turns a classified utterance into a directive, mutating state.
// Callers classify once per turn and call Resolve once with that result.
type Resolver interface {
	Resolve(intent domain.IntentResult, state *domain.SessionState, utterance string) domain.PromptDirective
}

// hintStreakQuizTrigger is the number of consecutive hinted replies after
// which the quiz is offered unprompted.
const hintStreakQuizTrigger = 2

// intentKinds maps classifier intents onto template kinds. Anything missing
// falls back to KindArgumentative.
var intentKinds = map[string]domain.TemplateKind{
	domain.IntentGreeting:         domain.KindGreeting,
	domain.IntentAppreciation:     domain.KindGreeting,
	domain.IntentOutOfScope:       domain.KindOutOfScope,
	domain.IntentPersonalQuestion: domain.KindOutOfScope,
	domain.IntentChangeTopic:      domain.KindOutOfScope,
	domain.IntentInsult:           domain.KindInsult,
	domain.IntentMakesFun:         domain.KindInsult,
	domain.IntentCuriosity:        domain.KindCuriosity,
	domain.IntentAsksClarity:      domain.KindCuriosity,
	domain.IntentAgrees:           domain.KindCuriosity,
	domain.IntentDisagree:         domain.KindDisagreement,
	domain.IntentEvidenceAgainst:  domain.KindEvidenceAgainst,
	domain.IntentEvidenceFor:      domain.KindEvidenceFor,
}

// intentFlags maps intents onto the milestone they mark.
var intentFlags = map[string]domain.Flag{
	domain.IntentCuriosity:       domain.FlagCuriosityShown,
	domain.IntentAsksClarity:     domain.FlagAskedForClarity,
	domain.IntentDisagree:        domain.FlagDisagreed,
	domain.IntentEvidenceAgainst: domain.FlagGaveEvidenceAgainst,
	domain.IntentEvidenceFor:     domain.FlagGaveEvidenceFor,
}

// Selector is the single Resolver implementation.
type Selector struct {
	quiz    *quiz.Engine
	success SuccessRule
}

// NewSelector builds a selector using the given success rule.
func NewSelector(engine *quiz.Engine, success SuccessRule) *Selector {
	if engine == nil {
		engine = quiz.NewEngine()
	}
	if success == nil {
		success = TerminationRule
	}
	return &Selector{quiz: engine, success: success}
}

var _ Resolver = (*Selector)(nil)

// Resolve applies the decision order: closed session, pending quiz answer,
// quiz request or hint streak, quiz exhaustion, intent table. A successful
// session then overrides the result with the closure directive. Only the
// first matching branch fires.
func (s *Selector) Resolve(intent domain.IntentResult, state *domain.SessionState, utterance string) domain.PromptDirective {
	state.Turns++
	d := s.resolve(intent, state, utterance)
	if !d.IsTerminal && !d.IsQuizQuestion && d.QuizFeedback == nil && s.success(state) {
		d = domain.Closure(intent.Name)
	}
	if d.IsTerminal {
		state.Closed = true
	}
	return d
}

func (s *Selector) resolve(intent domain.IntentResult, state *domain.SessionState, utterance string) domain.PromptDirective {
	if state.Closed {
		return domain.Closure(intent.Name)
	}

	if _, ok := quiz.ParseAnswer(utterance); ok && state.Quiz.PendingAnswer != "" {
		correct, answer := s.quiz.Grade(state, utterance)
		return domain.PromptDirective{
			Kind:          domain.KindQuizFeedback,
			QuizFeedback:  &correct,
			CorrectAnswer: answer,
			Intent:        intent.Name,
		}
	}

	quizWanted := intent.Name == domain.IntentAskQuiz || state.Quiz.HintStreak >= hintStreakQuizTrigger
	if quizWanted && !s.quiz.Exhausted(state) {
		q, _ := s.quiz.Next(state)
		return domain.PromptDirective{
			Kind:           domain.KindQuizQuestion,
			IsQuizQuestion: true,
			Question:       &q,
			Intent:         intent.Name,
		}
	}

	if s.quiz.Exhausted(state) {
		return domain.Closure(intent.Name)
	}

	kind := kindFor(intent)
	applyFlags(intent, state)
	return domain.PromptDirective{Kind: kind, Intent: intent.Name}
}

func kindFor(intent domain.IntentResult) domain.TemplateKind {
	if intent.IsConfidentTermination() {
		return domain.KindTermination
	}
	if kind, ok := intentKinds[intent.Name]; ok {
		return kind
	}
	return domain.KindArgumentative
}

// applyFlags marks the intent's milestone and re-evaluates
// strategyIdentified, which needs at least one prerequisite.
func applyFlags(intent domain.IntentResult, state *domain.SessionState) {
	if f, ok := intentFlags[intent.Name]; ok {
		state.Set(f)
	}
	if intent.IsConfidentTermination() {
		state.Set(domain.FlagTerminated)
	}

	if !state.AnyPrerequisite() {
		state.Flags[domain.FlagStrategyIdentified] = false
		return
	}
	if intent.Name == domain.IntentStrategyIdentified {
		state.Set(domain.FlagStrategyIdentified)
	}
}

// SuccessRule decides whether a session has been concluded successfully.
type SuccessRule func(*domain.SessionState) bool

// TerminationRule: success is the terminated milestone alone.
func TerminationRule(s *domain.SessionState) bool {
	return s.Has(domain.FlagTerminated)
}

// MilestonesRule: success requires every milestone flag.
func MilestonesRule(s *domain.SessionState) bool {
	for _, f := range domain.AllFlags {
		if !s.Has(f) {
			return false
		}
	}
	return true
}

// Rule names accepted by ParseSuccessRule.
const (
	RuleTermination = "termination"
	RuleMilestones  = "milestones"
)

// ParseSuccessRule maps a configuration value onto a rule.
func ParseSuccessRule(name string) (SuccessRule, error) {
	switch name {
	case "", RuleTermination:
		return TerminationRule, nil
	case RuleMilestones:
		return MilestonesRule, nil
	default:
		return nil, fmt.Errorf("unknown success rule %q", name)
	}
}
