package taskrouter

import (
	"sync"
	"time"
)

// DenyReason explains why a bucket refused admission.
type DenyReason int

const (
	DenyNone DenyReason = iota
	DenyMinuteExhausted
	DenyDayExhausted
)

func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "none"
	case DenyMinuteExhausted:
		return "minute-exhausted"
	case DenyDayExhausted:
		return "day-exhausted"
	default:
		return "unknown"
	}
}

// Admission is the result of a Bucket.TryAdmit call. When OK is false,
// RetryAfter is the time until the exhausted window resets.
type Admission struct {
	OK         bool
	Reason     DenyReason
	RetryAfter time.Duration
}

// Bucket enforces fixed-window RPM and RPD limits for one model.
//
// A fixed-window counter is deliberately simpler than a sliding window or
// token bucket: O(1) state, no background timers, at the cost of slight
// burst imprecision at window boundaries. Windows reset lazily on the next
// TryAdmit after they elapse. All state is in-memory and process-local.
type Bucket struct {
	mu  sync.Mutex
	rpm int
	rpd int

	minuteStart time.Time
	minuteCount int
	dayStart    time.Time
	dayCount    int
}

// NewBucket creates a bucket with the given requests-per-minute and
// requests-per-day limits. Limits must be positive; NewRegistry validates
// them before construction.
func NewBucket(rpm, rpd int) *Bucket {
	return &Bucket{rpm: rpm, rpd: rpd}
}

// TryAdmit checks and consumes one admission slot. The check-and-increment
// is a single critical section so concurrent callers can never admit past
// the limit. A denied call consumes nothing.
func (b *Bucket) TryAdmit(now time.Time) Admission {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(now)

	if b.minuteCount >= b.rpm {
		return Admission{
			Reason:     DenyMinuteExhausted,
			RetryAfter: b.minuteStart.Add(time.Minute).Sub(now),
		}
	}
	if b.dayCount >= b.rpd {
		return Admission{
			Reason:     DenyDayExhausted,
			RetryAfter: b.dayStart.Add(24 * time.Hour).Sub(now),
		}
	}

	b.minuteCount++
	b.dayCount++
	return Admission{OK: true}
}

// Remaining reports how many admissions are left in the current minute and
// day windows.
func (b *Bucket) Remaining(now time.Time) (minute, day int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(now)

	minute = b.rpm - b.minuteCount
	day = b.rpd - b.dayCount
	if minute < 0 {
		minute = 0
	}
	if day < 0 {
		day = 0
	}
	return minute, day
}

// roll resets elapsed windows. Must be called with the lock held.
func (b *Bucket) roll(now time.Time) {
	if b.minuteStart.IsZero() {
		b.minuteStart = now
		b.dayStart = now
		return
	}
	if now.Sub(b.minuteStart) >= time.Minute {
		b.minuteStart = now
		b.minuteCount = 0
	}
	if now.Sub(b.dayStart) >= 24*time.Hour {
		b.dayStart = now
		b.dayCount = 0
	}
}
