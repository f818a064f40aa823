package taskrouter

import "time"

// Meter observes dispatch events for monitoring/logging.
type Meter interface {
	// OnRoute is called before each backend invocation.
	OnRoute(event RouteEvent)

	// OnResult is called when a backend invocation completes.
	OnResult(event ResultEvent)

	// OnLedgerError is called when a ledger write fails. Ledger failures
	// degrade accounting only; they never fail the dispatch.
	OnLedgerError(event LedgerErrorEvent)
}

// RouteEvent describes a routing decision.
type RouteEvent struct {
	Task            string
	Model           string
	CallerID        string
	Attempt         int
	EstimatedTokens int64
}

// ResultEvent describes the outcome of one backend invocation.
type ResultEvent struct {
	Task     string
	Model    string
	CallerID string
	Success  bool
	Duration time.Duration
	Usage    Usage
	Err      error
}

// LedgerErrorEvent describes a failed ledger write.
type LedgerErrorEvent struct {
	Entry Entry
	Err   error
}
