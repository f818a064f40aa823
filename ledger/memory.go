// Package ledger provides Ledger implementations for taskrouter.
//
// MemoryLedger lives here; durable stores are nested modules under
// ledger/postgres and ledger/redis so their driver dependencies stay out of
// the core module.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/journalmuse/taskrouter"
)

// MemoryLedger is an in-memory, append-only Ledger suitable for tests and
// single-process deployments that don't need durable accounting.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []taskrouter.Entry
}

var _ taskrouter.Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Record appends one entry.
func (l *MemoryLedger) Record(_ context.Context, e taskrouter.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// DailyTotal sums total tokens for a caller over the UTC day containing day.
func (l *MemoryLedger) DailyTotal(_ context.Context, callerID string, day time.Time) (int64, error) {
	y, m, d := day.UTC().Date()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, e := range l.entries {
		if e.CallerID != callerID {
			continue
		}
		ey, em, ed := e.At.UTC().Date()
		if ey == y && em == m && ed == d {
			total += e.TotalTokens
		}
	}
	return total, nil
}

// Entries returns a copy of all recorded entries in append order.
func (l *MemoryLedger) Entries() []taskrouter.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]taskrouter.Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
