package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/shared"
	_ "modernc.org/sqlite"
)

// sqliteStore keeps sessions in a local database file so they survive
// restarts of a single instance.
type sqliteStore struct {
	db     *sql.DB
	policy EvictionPolicy
	now    func() time.Time
	logger *slog.Logger
}

func newSQLiteStore(cfg *storeConfig) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.sqlitePath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := cfg.sqlitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &sqliteStore{db: db, policy: cfg.eviction, now: cfg.now, logger: cfg.logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state BLOB NOT NULL,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_accessed ON sessions(accessed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *sqliteStore) Create(ctx context.Context, state *domain.SessionState) error {
	now := s.now()
	state.CreatedAt = now
	state.UpdatedAt = now
	state.Version = 1

	val, err := encodeState(state)
	if err != nil {
		return err
	}

	query := `INSERT INTO sessions (id, state, version, created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	err = shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query, state.ID, val, state.Version, now.UnixNano(), now.UnixNano(), now.UnixNano())
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session %s: %w", state.ID, err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*domain.SessionState, error) {
	var (
		val      []byte
		accessed int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT state, accessed_at FROM sessions WHERE id = ?`, id).Scan(&val, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if s.policy.IdleTTL > 0 && s.now().Sub(time.Unix(0, accessed)) > s.policy.IdleTTL {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	state, err := decodeState(val)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET accessed_at = ? WHERE id = ?`, s.now().UnixNano(), id); err != nil {
		s.logger.Warn("failed to touch session", "session_id", id, "error", err)
	}
	return state, nil
}

func (s *sqliteStore) Update(ctx context.Context, state *domain.SessionState) error {
	next := state.Clone()
	next.Version++
	next.UpdatedAt = s.now()
	val, err := encodeState(next)
	if err != nil {
		return err
	}

	query := `UPDATE sessions SET state = ?, version = ?, updated_at = ?, accessed_at = ?
		WHERE id = ? AND version = ?`
	var rows int64
	err = shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "update session", func() error {
		ts := next.UpdatedAt.UnixNano()
		res, err := s.db.ExecContext(ctx, query, val, next.Version, ts, ts, state.ID, state.Version)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", state.ID, err)
	}

	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, state.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update session %s: %w", state.ID, err)
		}
		return ErrVersionConflict
	}

	state.Version = next.Version
	state.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete session", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Sweep deletes idle sessions, then the least recently accessed ones above
// MaxEntries.
func (s *sqliteStore) Sweep(ctx context.Context) (int, error) {
	var removed int64
	if s.policy.IdleTTL > 0 {
		threshold := s.now().Add(-s.policy.IdleTTL).UnixNano()
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE accessed_at < ?`, threshold)
		if err != nil {
			return 0, fmt.Errorf("sweep idle sessions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("sweep idle sessions: %w", err)
		}
		removed += n
	}
	if s.policy.MaxEntries > 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions ORDER BY accessed_at DESC LIMIT -1 OFFSET ?)`, s.policy.MaxEntries)
		if err != nil {
			return int(removed), fmt.Errorf("sweep overflow sessions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return int(removed), fmt.Errorf("sweep overflow sessions: %w", err)
		}
		removed += n
	}
	return int(removed), nil
}
