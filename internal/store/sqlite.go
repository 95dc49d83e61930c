package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/conversation"
	"github.com/bladealex9848/expert-nexus/internal/history"
	"github.com/bladealex9848/expert-nexus/internal/selection"
	"github.com/bladealex9848/expert-nexus/internal/session"
	"github.com/bladealex9848/expert-nexus/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc applies each _pragma on every new connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT PRIMARY KEY,
		current_expert TEXT NOT NULL,
		selection_json TEXT NOT NULL,
		conversation_json TEXT NOT NULL,
		history_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by key.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*session.Session, error) {
	query := `
		SELECT session_key, current_expert, selection_json, conversation_json,
		       history_json, created_at, updated_at
		FROM sessions WHERE session_key = ?`

	var (
		out                                       session.Session
		currentExpert                             string
		selectionJSON, conversationJSON, histJSON string
		createdAt, updatedAt                      int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&out.Key, &currentExpert, &selectionJSON, &conversationJSON,
		&histJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	var sel selection.State
	if err := json.Unmarshal([]byte(selectionJSON), &sel); err != nil {
		return nil, fmt.Errorf("decode selection state: %w", err)
	}
	conv := conversation.New(currentExpert)
	if err := json.Unmarshal([]byte(conversationJSON), conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	ledger := history.New()
	if err := json.Unmarshal([]byte(histJSON), ledger); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	out.Selection = sel
	out.Conversation = conv
	out.Ledger = ledger
	out.CreatedAt = time.Unix(createdAt, 0)
	out.UpdatedAt = time.Unix(updatedAt, 0)
	out.Normalize(currentExpert)
	return &out, nil
}

// SaveSession creates or replaces a session.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	selectionJSON, err := json.Marshal(sess.Selection)
	if err != nil {
		return fmt.Errorf("encode selection state: %w", err)
	}
	conversationJSON, err := json.Marshal(sess.Conversation)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	histJSON, err := json.Marshal(sess.Ledger)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	query := `
		INSERT INTO sessions (
			session_key, current_expert, selection_json, conversation_json,
			history_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			current_expert = excluded.current_expert,
			selection_json = excluded.selection_json,
			conversation_json = excluded.conversation_json,
			history_json = excluded.history_json,
			updated_at = excluded.updated_at`

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err = shared.ConflictRetry(ctx, "save session", busyRetries, busyBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.Key, sess.CurrentExpert(), string(selectionJSON), string(conversationJSON),
			string(histJSON), createdAt.Unix(), time.Now().Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session, retrying on SQLITE_BUSY.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) error {
	err := shared.ConflictRetry(ctx, "delete session", busyRetries, busyBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions older than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}
