// Package postgres provides a PostgreSQL-backed Ledger for taskrouter.
//
// Entries are stored in an append-only table keyed by entry ID, with a date
// column so per-caller daily totals are a single indexed aggregate. This
// makes accounting durable across restarts and usable by multiple readers.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journalmuse/taskrouter"
)

// Store is a PostgreSQL-backed Ledger.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ taskrouter.Ledger = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "taskrouter_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Ledger.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "taskrouter_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entriesTable() string { return s.tablePrefix + "token_usage" }

// EnsureSchema creates the required table and index if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			entry_id TEXT PRIMARY KEY,
			caller_id TEXT NOT NULL,
			task TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens BIGINT NOT NULL,
			completion_tokens BIGINT NOT NULL,
			total_tokens BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			day DATE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_caller_day_idx ON %[1]s (caller_id, day);
	`, s.entriesTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("taskrouter/postgres: ensure schema: %w", err)
	}
	return nil
}

// Record appends one entry.
func (s *Store) Record(ctx context.Context, e taskrouter.Entry) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (entry_id, caller_id, task, model, prompt_tokens, completion_tokens, total_tokens, recorded_at, day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ($8 AT TIME ZONE 'UTC')::date)
	`, s.entriesTable())
	_, err := s.pool.Exec(ctx, q,
		e.ID, e.CallerID, e.Task, e.Model,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.At.UTC())
	if err != nil {
		return fmt.Errorf("taskrouter/postgres: record entry: %w", err)
	}
	return nil
}

// DailyTotal sums total tokens for a caller over the UTC day containing day.
func (s *Store) DailyTotal(ctx context.Context, callerID string, day time.Time) (int64, error) {
	q := fmt.Sprintf(`
		SELECT COALESCE(SUM(total_tokens), 0) FROM %s WHERE caller_id = $1 AND day = $2
	`, s.entriesTable())

	var total int64
	err := s.pool.QueryRow(ctx, q, callerID, day.UTC().Format("2006-01-02")).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("taskrouter/postgres: daily total: %w", err)
	}
	return total, nil
}
