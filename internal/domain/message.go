// Package domain contains core domain types for the parley dialogue service.
package domain

import (
	"encoding/json"
	"strings"
)

// Message is a single transcript entry.
type Message struct {
	Sender string `json:"sender" validate:"required"`
	Text   string `json:"message"`
}

// Transcript is a chronologically ordered list of messages.
type Transcript []Message

// Latest returns the text of the most recent message, or "" when empty.
func (t Transcript) Latest() string {
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1].Text
}

// Line renders the message as "<sender>: <text>".
func (m Message) Line() string {
	return strings.TrimSpace(m.Sender + ": " + m.Text)
}

// TerminationConfidence is the confidence a termination intent must exceed.
const TerminationConfidence = 0.8

// IntentResult is the classification oracle's verdict for one utterance.
type IntentResult struct {
	Name       string          `json:"name"`
	Confidence float64         `json:"confidence"`
	Raw        json.RawMessage `json:"-"`
}

// Intent names produced by the classification oracle.
const (
	IntentGreeting           = "greeting"
	IntentAppreciation       = "user_shows_appreciation"
	IntentOutOfScope         = "out_of_scope"
	IntentPersonalQuestion   = "user_asks_personal_questions"
	IntentChangeTopic        = "user_tries_to_change_the_topic"
	IntentInsult             = "insult_and_abuse_bot"
	IntentMakesFun           = "user_makes_fun_of_bot"
	IntentCuriosity          = "curiosity_about_flat_earth"
	IntentAsksClarity        = "user_asks_for_clearer_explanation"
	IntentAgrees             = "user_acknowledges_or_agrees_with_flat_earth_beliefs"
	IntentDisagree           = "disagree_flat_earth"
	IntentEvidenceAgainst    = "provided_evidence_against_flat_earth"
	IntentEvidenceFor        = "provided_evidence_for_spherical_earth"
	IntentTermination        = "termination"
	IntentStrategyIdentified = "user_identified_argumentation_strategy"
	IntentAskQuiz            = "ask_quiz"
)

// Rhetorical patterns detected in generated replies.
const (
	IntentNefarious     = "nefarious_intent"
	IntentCherryPicking = "cherry_picking_data"
	IntentContradictory = "contradictory_evidence"
	IntentSuspicion     = "overriding_suspicion"
)

// IsConfidentTermination reports whether the intent ends the dialogue.
func (i IntentResult) IsConfidentTermination() bool {
	return i.Name == IntentTermination && i.Confidence > TerminationConfidence
}
