// Package session persists conversation sessions and history in SQLite.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"gracebot/internal/domain"
)

// SQLiteStore implements the session store over a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			chat_id        TEXT NOT NULL,
			root_id        TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			last_active_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			timestamp  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
	`)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession returns the session or domain.ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, chat_id, root_id, created_at, last_active_at FROM sessions WHERE id = ?", id,
	)
	var sess domain.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ChatID, &sess.RootID, &sess.CreatedAt, &sess.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// UpsertSession inserts the session or refreshes its last-active time.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, chat_id, root_id, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		sess.ID, sess.UserID, sess.ChatID, sess.RootID, sess.CreatedAt, sess.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// History returns the session's messages oldest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM history WHERE session_id = ? ORDER BY id", sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []domain.HistoryMessage
	for rows.Next() {
		var m domain.HistoryMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// AppendHistory appends messages in one transaction so an exchange is never
// half-recorded.
func (s *SQLiteStore) AppendHistory(ctx context.Context, sessionID string, msgs ...domain.HistoryMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO history (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
			sessionID, m.Role, m.Content, m.Timestamp,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// DeleteIdleSessions removes sessions (and their history) whose last
// activity predates the cutoff, returning how many sessions were removed.
func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, lastActiveBefore int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reap: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM history WHERE session_id IN (SELECT id FROM sessions WHERE last_active_at < ?)",
		lastActiveBefore,
	); err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE last_active_at < ?", lastActiveBefore)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reap: %w", err)
	}
	return n, nil
}
