package prompt

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/ashureev/parley/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Templates holds the opaque prompt fragments and hint texts.
type Templates struct {
	Persona   string                         `yaml:"persona"`
	Sentiment map[string]string              `yaml:"sentiment"`
	Intents   map[domain.TemplateKind]string `yaml:"intents"`
	Closure   string                         `yaml:"closure"`
	Quiz      QuizTemplates                  `yaml:"quiz"`
	Hints     map[string]string              `yaml:"hints"`
}

// QuizTemplates are the quiz sub-flow fragments.
type QuizTemplates struct {
	Question  string `yaml:"question"`
	Correct   string `yaml:"correct"`
	Incorrect string `yaml:"incorrect"`
}

// DefaultTemplates parses the embedded template file.
func DefaultTemplates() (*Templates, error) {
	return ParseTemplates(defaultTemplates)
}

// LoadTemplates reads a template file, or the embedded one when path is empty.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return DefaultTemplates()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates a YAML template document.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if t.Closure == "" {
		return nil, fmt.Errorf("parse templates: closure template is required")
	}
	if t.Intents[domain.KindArgumentative] == "" {
		return nil, fmt.Errorf("parse templates: %s intent template is required", domain.KindArgumentative)
	}
	return &t, nil
}

// Hint returns the annotation text for a rhetorical-pattern intent, or "".
func (t *Templates) Hint(intent string) string {
	return t.Hints[intent]
}
