package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"PhysioFlow/internal/session"
)

// ErrNotFound is returned when no archived session has the requested ID.
var ErrNotFound = errors.New("session not found")

// Store archives finished conversations in SQLite. Archived transcripts are
// for review only; they are never loaded back into a live session.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Summary describes one archived session.
type Summary struct {
	ID           string
	StartTime    time.Time
	Provider     string
	MessageCount int
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	start_time DATETIME,
	provider TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	sender TEXT NOT NULL,
	text TEXT NOT NULL,
	timestamp DATETIME,
	PRIMARY KEY (session_id, seq),
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);`

// Open opens (creating if needed) the archive database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Archive saves the snapshot. Archiving the same session again adds only the
// messages not yet stored.
func (s *Store) Archive(ctx context.Context, snap session.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, start_time, provider) VALUES (?, ?, ?)",
		snap.ID, snap.StartTime, snap.Provider,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for _, msg := range snap.Messages {
		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO messages (session_id, seq, sender, text, timestamp) VALUES (?, ?, ?, ?, ?)",
			snap.ID, msg.ID, string(msg.Sender), msg.Text, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message %d: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("session archived", "session_id", snap.ID, "message_count", len(snap.Messages))
	return nil
}

// Transcript loads an archived session.
func (s *Store) Transcript(ctx context.Context, id string) (session.Snapshot, error) {
	snap := session.Snapshot{ID: id}

	err := s.db.QueryRowContext(ctx, "SELECT start_time, provider FROM sessions WHERE id = ?", id).
		Scan(&snap.StartTime, &snap.Provider)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, sender, text, timestamp FROM messages WHERE session_id = ? ORDER BY seq",
		id,
	)
	if err != nil {
		return snap, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg session.Message
		var sender string
		if err := rows.Scan(&msg.ID, &sender, &msg.Text, &msg.Timestamp); err != nil {
			return snap, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender = session.Sender(sender)
		snap.Messages = append(snap.Messages, msg)
	}
	return snap, rows.Err()
}

// List returns the most recent archived sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.start_time, s.provider, COUNT(m.seq)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.StartTime, &sum.Provider, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
