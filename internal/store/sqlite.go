package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"toolcal/internal/llm"
)

const MemoryPath = ":memory:"

// SQLite persists sessions in a SQLite database. Sessions already read or
// written by this process are served from an in-memory cache.
type SQLite struct {
	db    *sql.DB
	cache *Ephemeral
	mu    sync.RWMutex
	now   func() time.Time
}

// NewSQLite opens (creating if needed) the database at path, which may be
// MemoryPath.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if path == MemoryPath {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{
		db:    db,
		cache: NewEphemeral(),
		now:   time.Now,
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_id_id
			ON messages(session_id, id);

		CREATE TABLE IF NOT EXISTS usage (
			session_id TEXT PRIMARY KEY,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0
		);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Messages(ctx context.Context, sessionID string) ([]llm.Message, error) {
	if err := s.ensureLoaded(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.cache.Messages(ctx, sessionID)
}

func (s *SQLite) Usage(ctx context.Context, sessionID string) (llm.Usage, error) {
	if err := s.ensureLoaded(ctx, sessionID); err != nil {
		return llm.Usage{}, err
	}
	return s.cache.Usage(ctx, sessionID)
}

// ensureLoaded fills the cache with the session's messages and usage together
// so the cache never holds one without the other.
func (s *SQLite) ensureLoaded(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	loaded := s.cache.loaded(sessionID)
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.loaded(sessionID) {
		return nil
	}

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load messages for session %s: %w", sessionID, err)
	}
	if len(msgs) == 0 {
		return nil
	}

	usage, err := s.loadUsage(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load usage for session %s: %w", sessionID, err)
	}

	s.cache.mu.Lock()
	s.cache.extend(sessionID, msgs, usage)
	s.cache.mu.Unlock()
	return nil
}

// Extend writes through to the database first; the cache is only updated
// after the transaction commits.
func (s *SQLite) Extend(ctx context.Context, sessionID string, msgs []llm.Message, usage llm.Usage) error {
	if err := s.ensureLoaded(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (session_id, payload, created_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixNano()
	for _, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("serialize message: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, payload, now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage (session_id, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			prompt_tokens = usage.prompt_tokens + excluded.prompt_tokens,
			completion_tokens = usage.completion_tokens + excluded.completion_tokens,
			total_tokens = usage.total_tokens + excluded.total_tokens
	`, sessionID, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	if err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.cache.mu.Lock()
	s.cache.extend(sessionID, msgs, usage)
	s.cache.mu.Unlock()
	return nil
}

// Sessions lists stored sessions, most recently updated first.
func (s *SQLite) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(created_at)
		FROM messages
		GROUP BY session_id
		ORDER BY MAX(id) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		var updated int64
		if err := rows.Scan(&info.ID, &info.Messages, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.UpdatedAt = time.Unix(0, updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLite) loadMessages(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM messages WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []llm.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		var msg llm.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("deserialize message: %w", err)
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

func (s *SQLite) loadUsage(ctx context.Context, sessionID string) (llm.Usage, error) {
	var usage llm.Usage
	err := s.db.QueryRowContext(ctx, `
		SELECT prompt_tokens, completion_tokens, total_tokens
		FROM usage
		WHERE session_id = ?
	`, sessionID).Scan(&usage.PromptTokens, &usage.CompletionTokens, &usage.TotalTokens)

	if errors.Is(err, sql.ErrNoRows) {
		return llm.Usage{}, nil
	}
	if err != nil {
		return llm.Usage{}, fmt.Errorf("query usage: %w", err)
	}
	return usage, nil
}
