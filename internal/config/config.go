// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration.
type Config struct {
	Port        string `validate:"required,numeric"`
	GRPCPort    string `validate:"omitempty,numeric"`
	FrontendURL string

	Classifier ClassifierConfig
	Generation GenerationConfig
	Sentiment  SentimentConfig
	TurnLog    TurnLogConfig
	Session    SessionConfig
	Dialog     DialogConfig
	Telemetry  TelemetryConfig

	RateLimitPerMinute int `validate:"gte=0"`
}

// ClassifierConfig points at the intent classification service.
type ClassifierConfig struct {
	URL     string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

// GenerationConfig points at the streaming text generation service.
type GenerationConfig struct {
	URL      string        `validate:"required,url"`
	User     string        `validate:"required_with=Password"`
	Password string        `validate:"required_with=User"`
	Timeout  time.Duration `validate:"gt=0"`
}

// SentimentConfig selects the sentiment scorer. An empty URL uses the local
// lexicon scorer.
type SentimentConfig struct {
	URL     string `validate:"omitempty,url"`
	Timeout time.Duration
}

// TurnLogConfig controls the append-only turn record file.
type TurnLogConfig struct {
	Enabled   bool
	Dir       string `validate:"required_if=Enabled true"`
	File      string `validate:"required_if=Enabled true"`
	QueueSize int    `validate:"gt=0"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Store         string        `validate:"oneof=memory redis sqlite"`
	MaxEntries    int           `validate:"gte=0"`
	IdleTTL       time.Duration `validate:"gte=0"`
	SweepInterval time.Duration `validate:"gt=0"`
	RedisURL      string
	DBPath        string
}

// DialogConfig tunes prompt construction and stream handling.
type DialogConfig struct {
	SuccessRule    string `validate:"oneof=termination milestones"`
	BotName        string
	MaxPromptChars int `validate:"gt=0"`
	StopOnNewline  bool
	TemplatesPath  string
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	TraceExporter string `validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `validate:"required_if=TraceExporter otlp"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", ""),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Classifier: ClassifierConfig{
			URL:     getEnv("RASA_NLU_URL", "http://localhost:5005/model/parse"),
			Timeout: getEnvDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
		},
		Generation: GenerationConfig{
			URL:      getEnv("LLM_URL", "http://localhost:9000/generate_stream"),
			User:     getEnv("LLM_USER", ""),
			Password: getEnv("LLM_PASSWORD", ""),
			Timeout:  getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		},
		Sentiment: SentimentConfig{
			URL:     getEnv("SENTIMENT_URL", ""),
			Timeout: getEnvDuration("SENTIMENT_TIMEOUT", 5*time.Second),
		},
		TurnLog: TurnLogConfig{
			Enabled:   getEnvBool("LOG_ENABLED", true),
			Dir:       getEnv("LOG_DIR", "logs"),
			File:      getEnv("LOG_FILE", "chat_log.text"),
			QueueSize: getEnvInt("LOG_QUEUE_SIZE", 1000),
		},
		Session: SessionConfig{
			Store:         strings.ToLower(getEnv("SESSION_STORE", "memory")),
			MaxEntries:    getEnvInt("SESSION_MAX_ENTRIES", 0),
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 0),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			DBPath:        getEnv("SESSION_DB_PATH", "./data/sessions.db"),
		},
		Dialog: DialogConfig{
			SuccessRule:    strings.ToLower(getEnv("SUCCESS_RULE", "termination")),
			BotName:        getEnv("BOT_NAME", ""),
			MaxPromptChars: getEnvInt("MAX_PROMPT_CHARS", 15000),
			StopOnNewline:  getEnvBool("STOP_ON_NEWLINE", true),
			TemplatesPath:  getEnv("PROMPT_TEMPLATES_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			TraceExporter: strings.ToLower(getEnv("OTEL_TRACES_EXPORTER", "none")),
			OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Session.Store {
	case "redis":
		if c.Session.RedisURL == "" {
			return errors.New("REDIS_URL cannot be empty when SESSION_STORE=redis")
		}
	case "sqlite":
		if c.Session.DBPath == "" {
			return errors.New("SESSION_DB_PATH cannot be empty when SESSION_STORE=sqlite")
		}
	}
	if c.GRPCPort != "" && c.GRPCPort == c.Port {
		return errors.New("GRPC_PORT must differ from PORT")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("30s") and bare integers as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
