// Package usage provides persistent token usage tracking for model
// interactions. Records are append-only and indexed by timestamp,
// session, and model for aggregation queries. This is telemetry about
// the session, not conversation state — history itself is never
// persisted.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record represents a single THINK step's token usage.
type Record struct {
	ID           string
	Timestamp    time.Time
	SessionID    string
	Model        string
	Provider     string // "anthropic", "openai"
	InputTokens  int
	OutputTokens int
}

// Summary holds aggregated token usage totals.
type Summary struct {
	TotalRecords      int
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// ModelUsage is a per-model aggregation row.
type ModelUsage struct {
	Model        string
	Provider     string
	Records      int
	InputTokens  int64
	OutputTokens int64
}

// Store is an append-only SQLite store for token usage records. All
// public methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		session_id    TEXT,
		model         TEXT NOT NULL,
		provider      TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one usage record. ID and Timestamp are filled in if
// unset.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, timestamp, session_id, model, provider, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.Format(time.RFC3339Nano), r.SessionID, r.Model, r.Provider,
		r.InputTokens, r.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summarize aggregates all records at or after since. A zero since
// covers everything.
func (s *Store) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM usage_records
		WHERE timestamp >= ?`,
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize usage: %w", err)
	}
	return sum, nil
}

// ByModel aggregates records per model, most-used first.
func (s *Store) ByModel(ctx context.Context, since time.Time) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, provider, COUNT(*), SUM(input_tokens), SUM(output_tokens)
		FROM usage_records
		WHERE timestamp >= ?
		GROUP BY model, provider
		ORDER BY COUNT(*) DESC`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Provider, &m.Records, &m.InputTokens, &m.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
