// Package turnlog appends one JSON record per completed dialogue turn.
package turnlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/parley/internal/domain"
)

// Record is one line of the turn log.
type Record struct {
	Messages      domain.Transcript `json:"messages"`
	SessionID     string            `json:"session_id"`
	LLMParameters json.RawMessage   `json:"llm_parameters,omitempty"`
	NLUResponse   json.RawMessage   `json:"nlu_response,omitempty"`
	Prompt        string            `json:"prompt"`
	Success       bool              `json:"success"`
	Time          time.Time         `json:"time"`
	UID           string            `json:"uid"`
	LLMResponse   string            `json:"llm_response"`

	TurnID        string `json:"turn_id"`
	ChatbotID     string `json:"chatbot_id,omitempty"`
	Directive     string `json:"directive"`
	Phase         string `json:"phase,omitempty"`
	PostHocIntent string `json:"post_hoc_intent,omitempty"`
	Hint          bool   `json:"hint"`
	Malformed     int    `json:"malformed_chunks,omitempty"`
	Incomplete    bool   `json:"incomplete,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Logger accepts records for asynchronous, serialized appends.
type Logger interface {
	Log(rec Record)
	Close() error
}

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	File      string
	QueueSize int
}

const (
	defaultFile      = "chat_log.text"
	defaultQueueSize = 1000
)

// New opens the log file for appending and starts the writer goroutine.
// A disabled config yields a logger that discards everything.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.File == "" {
		cfg.File = defaultFile
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create turn log directory: %w", err)
	}

	path := filepath.Join(cfg.Dir, cfg.File)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open turn log: %w", err)
	}

	l := &fileLogger{
		file:   f,
		queue:  make(chan Record, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "turnlog", "path", path),
	}
	go l.run()
	return l, nil
}

type fileLogger struct {
	file   *os.File
	queue  chan Record
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Log enqueues a record. It blocks while the queue is full and is a no-op
// after Close.
func (l *fileLogger) Log(rec Record) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("turn log closed, dropping record", "turn_id", rec.TurnID)
		return
	}
	l.queue <- rec
}

// Close stops accepting records, drains the queue and closes the file.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close turn log: %w", err)
	}
	return nil
}

// run is the only goroutine touching the file. Each record is written with a
// single Write so lines never interleave.
func (l *fileLogger) run() {
	defer close(l.done)
	for rec := range l.queue {
		line, err := json.Marshal(rec)
		if err != nil {
			l.logger.Error("failed to encode turn record", "turn_id", rec.TurnID, "error", err)
			continue
		}
		line = append(line, '\n')
		if _, err := l.file.Write(line); err != nil {
			l.logger.Error("failed to append turn record", "turn_id", rec.TurnID, "error", err)
		}
	}
}

type noopLogger struct{}

func (noopLogger) Log(Record)   {}
func (noopLogger) Close() error { return nil }

// Noop returns a logger that discards records.
func Noop() Logger { return noopLogger{} }
