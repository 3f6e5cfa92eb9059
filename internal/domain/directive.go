package domain

// TemplateKind names the prompt strategy chosen for a turn.
type TemplateKind string

const (
	KindGreeting        TemplateKind = "greeting"
	KindOutOfScope      TemplateKind = "out_of_scope"
	KindInsult          TemplateKind = "insult"
	KindCuriosity       TemplateKind = "curiosity"
	KindDisagreement    TemplateKind = "disagreement"
	KindEvidenceAgainst TemplateKind = "evidence_against"
	KindEvidenceFor     TemplateKind = "evidence_for"
	KindTermination     TemplateKind = "termination"
	KindArgumentative   TemplateKind = "argumentative"
	KindClosure         TemplateKind = "closure"
	KindQuizQuestion    TemplateKind = "quiz_question"
	KindQuizFeedback    TemplateKind = "quiz_feedback"
)

// PromptDirective is the resolved decision for one turn, independent of the
// literal template text.
type PromptDirective struct {
	Kind           TemplateKind `json:"kind"`
	IsTerminal     bool         `json:"is_terminal"`
	IsQuizQuestion bool         `json:"is_quiz_question"`
	// QuizFeedback is nil unless the turn graded a quiz answer; then it holds
	// whether the answer was correct.
	QuizFeedback  *bool         `json:"quiz_feedback,omitempty"`
	CorrectAnswer string        `json:"correct_answer,omitempty"`
	Question      *QuizQuestion `json:"question,omitempty"`
	Intent        string        `json:"intent"`
}

// Success reports whether the turn should be announced as a successful dialog.
func (d PromptDirective) Success() bool {
	return d.IsTerminal
}

// Closure returns the terminal directive.
func Closure(intent string) PromptDirective {
	return PromptDirective{Kind: KindClosure, IsTerminal: true, Intent: intent}
}
