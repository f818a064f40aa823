package taskrouter

import (
	"context"
	"time"
)

// Entry is one durable record of a completed backend call's token cost.
// Entries are append-only; aggregation and retention are concerns of the
// backing store.
type Entry struct {
	ID               string
	CallerID         string
	Task             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	At               time.Time
}

// Ledger records token consumption per completed call.
type Ledger interface {
	// Record appends one entry. A returned error is reported to the Meter
	// by the router but never fails the dispatch.
	Record(ctx context.Context, e Entry) error

	// DailyTotal returns the caller's total token consumption for the UTC
	// day containing the given time.
	DailyTotal(ctx context.Context, callerID string, day time.Time) (int64, error)
}
