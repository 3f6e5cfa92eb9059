package domain

import (
	"maps"
	"time"
)

// Flag is a one-way milestone reached during a session.
type Flag string

const (
	FlagCuriosityShown      Flag = "curiosityShown"
	FlagAskedForClarity     Flag = "askedForClarity"
	FlagDisagreed           Flag = "disagreed"
	FlagGaveEvidenceAgainst Flag = "gaveEvidenceAgainst"
	FlagGaveEvidenceFor     Flag = "gaveEvidenceFor"
	FlagStrategyIdentified  Flag = "strategyIdentified"
	FlagTerminated          Flag = "terminated"
)

// AllFlags lists every milestone in a stable order.
var AllFlags = []Flag{
	FlagCuriosityShown,
	FlagAskedForClarity,
	FlagDisagreed,
	FlagGaveEvidenceAgainst,
	FlagGaveEvidenceFor,
	FlagStrategyIdentified,
	FlagTerminated,
}

// StrategyPrerequisites must include at least one set flag before
// FlagStrategyIdentified may be set.
var StrategyPrerequisites = []Flag{
	FlagCuriosityShown,
	FlagAskedForClarity,
	FlagDisagreed,
	FlagGaveEvidenceAgainst,
	FlagGaveEvidenceFor,
}

// Phase is the orchestrator state of a session.
type Phase string

const (
	PhaseFresh       Phase = "FRESH"
	PhaseActive      Phase = "ACTIVE"
	PhaseQuizPending Phase = "QUIZ_PENDING"
	PhaseTerminated  Phase = "TERMINATED"
)

// QuizBankSize is the number of questions a session can be asked.
const QuizBankSize = 4

// QuizState tracks the quiz sub-flow for one session.
type QuizState struct {
	Active        bool   `json:"active" msgpack:"active"`
	AskedCount    int    `json:"asked_count" msgpack:"asked_count"`
	PendingAnswer string `json:"pending_answer,omitempty" msgpack:"pending_answer"`
	HintStreak    int    `json:"hint_streak" msgpack:"hint_streak"`
}

// SessionState holds everything the selector knows about a session.
type SessionState struct {
	ID        string        `json:"id" msgpack:"id"`
	Flags     map[Flag]bool `json:"flags" msgpack:"flags"`
	Quiz      QuizState     `json:"quiz" msgpack:"quiz"`
	Closed    bool          `json:"closed" msgpack:"closed"`
	Turns     int           `json:"turns" msgpack:"turns"`
	Version   int64         `json:"version" msgpack:"version"`
	CreatedAt time.Time     `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" msgpack:"updated_at"`
}

// NewSessionState returns a fresh state with every flag cleared.
func NewSessionState(id string) *SessionState {
	flags := make(map[Flag]bool, len(AllFlags))
	for _, f := range AllFlags {
		flags[f] = false
	}
	return &SessionState{ID: id, Flags: flags}
}

// Has reports whether a flag is set.
func (s *SessionState) Has(f Flag) bool {
	return s.Flags[f]
}

// Set marks a flag as reached.
func (s *SessionState) Set(f Flag) {
	if s.Flags == nil {
		s.Flags = make(map[Flag]bool, len(AllFlags))
	}
	s.Flags[f] = true
}

// AnyPrerequisite reports whether any strategy prerequisite flag is set.
func (s *SessionState) AnyPrerequisite() bool {
	for _, f := range StrategyPrerequisites {
		if s.Flags[f] {
			return true
		}
	}
	return false
}

// Phase derives the orchestrator phase from the stored fields.
func (s *SessionState) Phase() Phase {
	switch {
	case s == nil:
		return PhaseFresh
	case s.Closed:
		return PhaseTerminated
	case s.Quiz.PendingAnswer != "":
		return PhaseQuizPending
	default:
		return PhaseActive
	}
}

// QuizExhausted reports whether every bank question has been asked.
func (s *SessionState) QuizExhausted() bool {
	return s.Quiz.AskedCount >= QuizBankSize
}

// Clone returns a deep copy so a turn can be resolved without touching the
// stored value until it commits.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	c.Flags = maps.Clone(s.Flags)
	return &c
}
