package taskrouter

import (
	"sync"
	"time"
)

// HealthState describes the health of a backend model.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker flags models that fail repeatedly so dispatch can stop
// feeding them retry budget until a cooldown passes (circuit breaker).
// After the cooldown an unhealthy model transitions to half-open and the
// next dispatch probes it; one success closes the circuit.
type HealthTracker struct {
	mu       sync.Mutex
	failures int           // failures within window that open the circuit
	window   time.Duration // sliding window for counting failures
	cooldown time.Duration // how long an open circuit stays closed to traffic
	models   map[string]*modelHealth
}

type modelHealth struct {
	state    HealthState
	recent   []time.Time
	openedAt time.Time
}

// NewHealthTracker creates a tracker with the default thresholds:
// 3 failures within 5 minutes open the circuit for 30 seconds.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		failures: 3,
		window:   5 * time.Minute,
		cooldown: 30 * time.Second,
		models:   make(map[string]*modelHealth),
	}
}

// State returns the current health of a model, transitioning an unhealthy
// model to half-open once its cooldown has elapsed.
func (h *HealthTracker) State(model string, now time.Time) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	mh, ok := h.models[model]
	if !ok {
		return HealthHealthy
	}
	if mh.state == HealthUnhealthy && now.Sub(mh.openedAt) >= h.cooldown {
		mh.state = HealthHalfOpen
	}
	return mh.state
}

// RecordSuccess marks a model healthy and clears its failure history.
func (h *HealthTracker) RecordSuccess(model string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mh := h.getOrCreate(model)
	mh.state = HealthHealthy
	mh.recent = mh.recent[:0]
}

// RecordFailure records one failed call; enough failures inside the window
// open the circuit.
func (h *HealthTracker) RecordFailure(model string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mh := h.getOrCreate(model)
	if mh.state == HealthUnhealthy {
		return
	}

	cutoff := now.Add(-h.window)
	kept := mh.recent[:0]
	for _, t := range mh.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	mh.recent = append(kept, now)

	if len(mh.recent) >= h.failures {
		mh.state = HealthUnhealthy
		mh.openedAt = now
	}
}

func (h *HealthTracker) getOrCreate(model string) *modelHealth {
	mh, ok := h.models[model]
	if !ok {
		mh = &modelHealth{state: HealthHealthy}
		h.models[model] = mh
	}
	return mh
}
