package domain

import "strings"

// QuizQuestion is one multiple-choice question about argumentation strategies.
type QuizQuestion struct {
	Prompt       string   `json:"prompt" yaml:"prompt"`
	Options      []string `json:"options" yaml:"options"`
	CorrectLabel string   `json:"correct_label" yaml:"correct_label"`
}

// LabelToken returns the label before the first ")" or ".", lowercased:
// "c) Cherry Picking" -> "c".
func LabelToken(option string) string {
	option = strings.TrimSpace(option)
	if i := strings.IndexAny(option, ")."); i >= 0 {
		option = option[:i]
	}
	return strings.ToLower(strings.TrimSpace(option))
}

// Labels returns the label token of every option in order.
func (q QuizQuestion) Labels() []string {
	labels := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		labels = append(labels, LabelToken(o))
	}
	return labels
}
