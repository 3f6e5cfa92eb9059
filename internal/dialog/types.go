// Package dialog coordinates one persuasion-dialogue turn end to end.
package dialog

import (
	"encoding/json"
	"errors"

	"github.com/ashureev/parley/internal/domain"
)

// ErrEmptyTranscript is returned for a request without messages.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Request is one turn as posted by the chat frontend.
type Request struct {
	Messages      domain.Transcript `json:"messages" validate:"required,min=1,dive"`
	SessionID     string            `json:"session_id" validate:"required,sessionid"`
	LLMParameters json.RawMessage   `json:"llm_parameters,omitempty"`
	ChatbotID     string            `json:"chatbot_id,omitempty" validate:"max=128"`
	UID           string            `json:"uid,omitempty" validate:"max=128"`
}

// Header is the first unit of every turn stream.
type Header struct {
	DialogSuccess bool `json:"dialog_success"`
}

// Unit renders the header as sent on the wire.
func (h Header) Unit() []byte {
	b, _ := json.Marshal(h)
	out := make([]byte, 0, len(headerPrefix)+len(b)+2)
	out = append(out, headerPrefix...)
	out = append(out, b...)
	return append(out, "\n\n"...)
}

const headerPrefix = "header: "

// Outcome labels for metrics and logs.
const (
	outcomeOK                    = "ok"
	outcomeIncomplete            = "incomplete"
	outcomeClassifierUnavailable = "classifier_unavailable"
	outcomeGenerationUnavailable = "generation_unavailable"
	outcomeConflict              = "conflict"
	outcomeCanceled              = "canceled"
	outcomeError                 = "error"
)
