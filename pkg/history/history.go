// Package history persists question/answer exchanges in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/companion/pkg/models"
)

// Store records and queries conversation history.
type Store interface {
	// Log stores an exchange and returns it with ID and timestamp filled in.
	Log(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error)
	// Recent returns the last n exchanges, oldest first.
	Recent(ctx context.Context, n int) ([]models.HistoryEntry, error)
	// List returns every exchange, oldest first.
	List(ctx context.Context) ([]models.HistoryEntry, error)
	// Clear deletes every exchange.
	Clear(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// SQLiteStore implements Store with a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS history_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const selectColumns = `SELECT id, question, answer, model, prompt_tokens, completion_tokens, latency_ms, created_at FROM history_entries`

// New opens the database at dbPath and runs auto-migration.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Log stores an exchange. A missing ID or timestamp is generated.
func (s *SQLiteStore) Log(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_entries (id, question, answer, model, prompt_tokens, completion_tokens, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Question, entry.Answer, entry.Model,
		entry.PromptTokens, entry.CompletionTokens, entry.LatencyMs, entry.CreatedAt,
	)
	if err != nil {
		return entry, fmt.Errorf("log history: %w", err)
	}
	return entry, nil
}

// Recent returns the last n exchanges, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := s.query(ctx, selectColumns+` ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}

// List returns every exchange, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	return s.query(ctx, selectColumns+` ORDER BY seq ASC`)
}

// Clear deletes every exchange.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.Model,
			&e.PromptTokens, &e.CompletionTokens, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExportJSON renders the full history as an indented JSON array.
func ExportJSON(ctx context.Context, s Store) ([]byte, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// ExportMarkdown renders the full history as Markdown, newest first.
func ExportMarkdown(ctx context.Context, s Store) (string, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	return FormatMarkdown(entries), nil
}

// FormatMarkdown renders entries newest first.
func FormatMarkdown(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "No history available."
	}
	lines := []string{"# Research History\n"}
	for _, e := range slices.Backward(entries) {
		lines = append(lines,
			"## "+e.CreatedAt.Local().Format(time.DateTime),
			"**Q:** "+e.Question,
			"",
			"**A:**\n\n"+e.Answer,
			"\n---\n",
		)
	}
	return strings.Join(lines, "\n")
}
