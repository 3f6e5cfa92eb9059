// Package prompt composes the literal prompt sent to the generation backend.
package prompt

import (
	"strings"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/sentiment"
)

// DefaultMaxChars is the prompt budget in characters (about 7500 tokens at
// two characters per token).
const DefaultMaxChars = 15000

// Builder is pure: the same directive, transcript and polarity always yield
// the same prompt.
type Builder struct {
	templates *Templates
	botName   string
	maxChars  int
}

// NewBuilder creates a builder. An empty botName names the sender of the
// first transcript message as the next speaker.
func NewBuilder(templates *Templates, botName string, maxChars int) *Builder {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Builder{templates: templates, botName: botName, maxChars: maxChars}
}

// Templates returns the templates the builder renders from.
func (b *Builder) Templates() *Templates {
	return b.templates
}

// Build renders the prompt for a directive.
//
// Terminal directives render only the closure template around the latest
// utterance; persona, sentiment and transcript are dropped. Quiz directives
// render the quiz fragment and transcript without persona or sentiment.
func (b *Builder) Build(d domain.PromptDirective, transcript domain.Transcript, polarity sentiment.Polarity) string {
	if d.IsTerminal {
		return strings.ReplaceAll(b.templates.Closure, "{user_message}", transcript.Latest())
	}

	var head strings.Builder
	switch {
	case d.IsQuizQuestion:
		head.WriteString(b.templates.Quiz.Question)
	case d.QuizFeedback != nil:
		tmpl := b.templates.Quiz.Incorrect
		if *d.QuizFeedback {
			tmpl = b.templates.Quiz.Correct
		}
		head.WriteString(strings.ReplaceAll(tmpl, "{correct_answer}", d.CorrectAnswer))
	default:
		head.WriteString(b.templates.Persona)
		head.WriteString(b.templates.Sentiment[string(polarity)])
		head.WriteString(b.intentFragment(d.Kind))
	}

	return head.String() + b.dialog(transcript, b.maxChars-head.Len())
}

func (b *Builder) intentFragment(kind domain.TemplateKind) string {
	if s, ok := b.templates.Intents[kind]; ok {
		return s
	}
	return b.templates.Intents[domain.KindArgumentative]
}

// dialog renders the transcript as a script ending with an empty line for
// the bot. Oldest messages are dropped until it fits in budget; the latest
// message and the anchor are always kept.
func (b *Builder) dialog(transcript domain.Transcript, budget int) string {
	anchor := b.speaker(transcript) + ": "

	lines := make([]string, 0, len(transcript))
	for _, m := range transcript {
		lines = append(lines, m.Line())
	}

	size := len(anchor)
	for _, l := range lines {
		size += len(l) + 1
	}
	start := 0
	for size > budget && start < len(lines)-1 {
		size -= len(lines[start]) + 1
		start++
	}

	return strings.Join(append(lines[start:], anchor), "\n")
}

func (b *Builder) speaker(transcript domain.Transcript) string {
	switch {
	case b.botName != "":
		return b.botName
	case len(transcript) > 0:
		return transcript[0].Sender
	default:
		return "Bot"
	}
}
