// Package redis provides a Redis-backed Ledger for taskrouter.
//
// Each entry is appended to a per-caller daily list and the daily total is
// kept as a plain counter, both incremented in one pipeline. Totals survive
// process restarts and are shared across instances; entries expire after a
// retention window, so this store suits live accounting rather than
// long-term archival.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/journalmuse/taskrouter"
)

const defaultRetention = 30 * 24 * time.Hour

// Store is a Redis-backed Ledger.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	retention time.Duration
}

var _ taskrouter.Ledger = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "taskrouter:ledger:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithRetention sets how long entries and totals are kept (default 30 days).
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New creates a new Redis-backed Ledger.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "taskrouter:ledger:",
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) totalKey(callerID string, day time.Time) string {
	return s.keyPrefix + "total:" + callerID + ":" + day.UTC().Format("2006-01-02")
}

func (s *Store) entriesKey(callerID string, day time.Time) string {
	return s.keyPrefix + "entries:" + callerID + ":" + day.UTC().Format("2006-01-02")
}

type storedEntry struct {
	ID               string    `json:"id"`
	Task             string    `json:"task"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	At               time.Time `json:"at"`
}

// Record appends one entry and bumps the caller's daily total.
func (s *Store) Record(ctx context.Context, e taskrouter.Entry) error {
	payload, err := json.Marshal(storedEntry{
		ID:               e.ID,
		Task:             e.Task,
		Model:            e.Model,
		PromptTokens:     e.PromptTokens,
		CompletionTokens: e.CompletionTokens,
		TotalTokens:      e.TotalTokens,
		At:               e.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("taskrouter/redis: marshal entry: %w", err)
	}

	totalKey := s.totalKey(e.CallerID, e.At)
	entriesKey := s.entriesKey(e.CallerID, e.At)

	pipe := s.client.TxPipeline()
	pipe.IncrBy(ctx, totalKey, e.TotalTokens)
	pipe.Expire(ctx, totalKey, s.retention)
	pipe.RPush(ctx, entriesKey, payload)
	pipe.Expire(ctx, entriesKey, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskrouter/redis: record entry: %w", err)
	}
	return nil
}

// DailyTotal returns the caller's total tokens for the UTC day containing day.
func (s *Store) DailyTotal(ctx context.Context, callerID string, day time.Time) (int64, error) {
	total, err := s.client.Get(ctx, s.totalKey(callerID, day)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("taskrouter/redis: daily total: %w", err)
	}
	return total, nil
}
