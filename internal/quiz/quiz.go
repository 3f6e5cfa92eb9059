// Package quiz owns the fixed argumentation-strategy question bank and grading.
package quiz

import (
	"strings"

	"github.com/ashureev/parley/internal/domain"
)

// Bank is the fixed, ordered question bank. Questions are served by
// SessionState.Quiz.AskedCount and never repeated within a session.
var Bank = [domain.QuizBankSize]domain.QuizQuestion{
	{
		Prompt: "Which argumentation strategy presents only the evidence that supports a viewpoint while ignoring evidence that contradicts it?",
		Options: []string{
			"a) Contradictory evidence",
			"b) Nefarious Intent",
			"c) Cherry Picking",
		},
		CorrectLabel: "c) Cherry Picking",
	},
	{
		Prompt: "Which argumentation strategy refers to a malicious or harmful purpose behind someone's actions, often involving deliberate deception or harm?",
		Options: []string{
			"a) Contradictory evidence",
			"b) Nefarious Intent",
			"c) Cherry Picking",
		},
		CorrectLabel: "b) Nefarious Intent",
	},
	{
		Prompt: "Which argumentation strategy proposes alternative explanations for observations that seem to contradict the flat Earth model?",
		Options: []string{
			"a) Contradictory evidence",
			"b) Overriding Suspicion",
			"c) Cherry Picking",
		},
		CorrectLabel: "a) Contradictory evidence",
	},
	{
		Prompt: "Which argumentation strategy disregards evidence because of skepticism towards authority figures?",
		Options: []string{
			"a) Nefarious Intent",
			"b) Cherry Picking",
			"c) Overriding Suspicion",
		},
		CorrectLabel: "c) Overriding Suspicion",
	},
}

// answerLabels are the utterances accepted as quiz answers.
var answerLabels = map[string]bool{"a": true, "b": true, "c": true}

// Engine serves and grades quiz questions. It holds no per-session data;
// everything it reads or writes lives in domain.SessionState.
type Engine struct {
	bank []domain.QuizQuestion
}

// NewEngine returns an engine over the fixed bank.
func NewEngine() *Engine {
	return &Engine{bank: Bank[:]}
}

// ParseAnswer normalizes an utterance into a quiz label. It accepts "c",
// "C", "c)" and "c." and reports false for anything else.
func ParseAnswer(utterance string) (string, bool) {
	label := strings.ToLower(strings.TrimSpace(utterance))
	label = strings.TrimRight(label, ").")
	if !answerLabels[label] {
		return "", false
	}
	return label, true
}

// Exhausted reports whether the session has been asked every question.
func (e *Engine) Exhausted(s *domain.SessionState) bool {
	return s.Quiz.AskedCount >= len(e.bank)
}

// Next asks the next question: it advances AskedCount, records the pending
// answer and resets the hint streak. It reports false when exhausted.
func (e *Engine) Next(s *domain.SessionState) (domain.QuizQuestion, bool) {
	if e.Exhausted(s) {
		return domain.QuizQuestion{}, false
	}
	q := e.bank[s.Quiz.AskedCount]
	s.Quiz.AskedCount++
	s.Quiz.Active = true
	s.Quiz.PendingAnswer = q.CorrectLabel
	s.Quiz.HintStreak = 0
	return q, true
}

// Grade compares the answer label with the pending correct label and clears
// the pending answer. The returned string is the correct option text.
func (e *Engine) Grade(s *domain.SessionState, answer string) (bool, string) {
	correct := s.Quiz.PendingAnswer
	s.Quiz.PendingAnswer = ""
	s.Quiz.Active = false
	label, ok := ParseAnswer(answer)
	if !ok || correct == "" {
		return false, correct
	}
	return domain.LabelToken(correct) == label, correct
}

// Render formats a question as the annotation text appended to a reply.
func Render(q domain.QuizQuestion) string {
	var b strings.Builder
	b.WriteString("<br/><b>")
	b.WriteString(q.Prompt)
	b.WriteString("</b><br/><i>")
	b.WriteString(strings.Join(q.Options, "<br/>"))
	b.WriteString("</i><br/><b>Please provide your answer.</b>")
	return b.String()
}
