package taskrouter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Router turns dispatch requests into outcomes: it selects candidate models
// for the request's task, waits on nothing except the backend call and its
// own backoff, retries transient failures against the same model, falls back
// across models on quota denial or fatal errors, and records token usage to
// the ledger.
type Router struct {
	cfg      Config
	registry *Registry
	ledger   Ledger
	meter    Meter
	policy   Policy
	health   *HealthTracker
	now      func() time.Time
	sleep    SleepFunc
}

// Option configures a Router.
type Option func(*Router)

// WithLedger sets the token ledger.
func WithLedger(l Ledger) Option {
	return func(r *Router) { r.ledger = l }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithPolicy sets the candidate ordering policy.
func WithPolicy(p Policy) Option {
	return func(r *Router) { r.policy = p }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithClock sets the time source. Tests inject a virtual clock so quota
// windows can be driven without waiting.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithSleep sets the sleep function used for backoff delays.
func WithSleep(sleep SleepFunc) Option {
	return func(r *Router) { r.sleep = sleep }
}

// NewRouter creates a Router from a config and the set of backends it may
// route to. Default components (configured-order policy, discard ledger,
// no-op meter) are used unless overridden via options. Config problems are
// reported here, never at dispatch time.
func NewRouter(cfg Config, backends []Backend, opts ...Option) (*Router, error) {
	if len(backends) == 0 {
		return nil, configErrorf("at least one backend is required")
	}

	beMap := make(map[string]Backend, len(backends))
	for _, b := range backends {
		if _, dup := beMap[b.Name()]; dup {
			return nil, configErrorf("duplicate backend name %q", b.Name())
		}
		beMap[b.Name()] = b
	}

	cfg = cfg.withDefaults()
	registry, err := NewRegistry(cfg, beMap)
	if err != nil {
		return nil, err
	}

	r := &Router{
		cfg:      cfg,
		registry: registry,
		health:   NewHealthTracker(),
		now:      time.Now,
		sleep:    defaultSleep,
	}

	for _, opt := range opts {
		opt(r)
	}

	// Apply defaults after options.
	if r.policy == nil {
		r.policy = configOrderPolicy{}
	}
	if r.ledger == nil {
		r.ledger = discardLedger{}
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}

	return r, nil
}

// Registry returns the router's model registry.
func (r *Router) Registry() *Registry { return r.registry }

// DailyTotal reports a caller's total token consumption for the UTC day
// containing the given time, from the configured ledger.
func (r *Router) DailyTotal(ctx context.Context, callerID string, day time.Time) (int64, error) {
	return r.ledger.DailyTotal(ctx, callerID, day)
}

// Dispatch routes one request. On success exactly one ledger entry is
// written for the call that served it. Quota-denied candidates are skipped
// without blocking; transient failures are retried with backoff against the
// same candidate; fatal failures advance to the next candidate immediately.
func (r *Router) Dispatch(ctx context.Context, req DispatchRequest) (Outcome, error) {
	task := req.Task
	if task == "" {
		task = r.cfg.DefaultTask
	}

	models, err := r.registry.CandidatesFor(task)
	if err != nil {
		return Outcome{}, err
	}

	estimated := EstimateTokens(req.Payload)
	ordered := r.policy.Select(r.snapshot(models))

	var (
		attempts      []Attempt
		lastErr       error
		denied        bool
		minRetryAfter time.Duration
		attemptNum    int
	)

	for _, c := range ordered {
		if c.Health == HealthUnhealthy {
			err := fmt.Errorf("%w: model %s circuit open", ErrBackendUnavailable, c.Model.Name)
			attempts = append(attempts, Attempt{Model: c.Model.Name, Err: err})
			lastErr = err
			continue
		}

		md := c.Model
		bo := newAttemptBackOff(r.cfg.Retry)
		var candErr error

	attemptLoop:
		for attempt := 0; attempt < r.cfg.Retry.MaxAttempts; attempt++ {
			// Each backend call, retries included, consumes one admission.
			adm := md.TryAdmit(r.now())
			if !adm.OK {
				denied = true
				if minRetryAfter == 0 || adm.RetryAfter < minRetryAfter {
					minRetryAfter = adm.RetryAfter
				}
				break attemptLoop
			}

			attemptNum++
			r.meter.OnRoute(RouteEvent{
				Task:            task,
				Model:           md.Name,
				CallerID:        req.CallerID,
				Attempt:         attemptNum,
				EstimatedTokens: estimated,
			})

			start := r.now()
			resp, err := r.invoke(ctx, md, req)
			duration := r.now().Sub(start)

			if err == nil {
				r.health.RecordSuccess(md.Name)
				r.record(ctx, req.CallerID, task, md.Name, resp.Usage)
				r.meter.OnResult(ResultEvent{
					Task:     task,
					Model:    md.Name,
					CallerID: req.CallerID,
					Success:  true,
					Duration: duration,
					Usage:    resp.Usage,
				})
				return Outcome{
					Model:        md.Name,
					Content:      resp.Content,
					FinishReason: resp.FinishReason,
					Usage:        resp.Usage,
					Latency:      duration,
					Attempts:     attemptNum,
				}, nil
			}

			r.health.RecordFailure(md.Name, r.now())
			r.meter.OnResult(ResultEvent{
				Task:     task,
				Model:    md.Name,
				CallerID: req.CallerID,
				Success:  false,
				Duration: duration,
				Usage:    resp.Usage,
				Err:      err,
			})
			// A classified failure that still consumed tokens gets an entry.
			if resp.Usage.TotalTokens > 0 {
				r.record(ctx, req.CallerID, task, md.Name, resp.Usage)
			}

			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}

			candErr = err
			if !IsRetryable(err) {
				// Fatal or unclassified: retrying cannot help this model.
				break attemptLoop
			}
			if attempt == r.cfg.Retry.MaxAttempts-1 {
				break attemptLoop
			}
			if err := r.sleep(ctx, bo.NextBackOff()); err != nil {
				return Outcome{}, err
			}
		}

		if candErr != nil {
			attempts = append(attempts, Attempt{Model: md.Name, Err: candErr})
			lastErr = candErr
		}
	}

	if len(attempts) == 0 && denied {
		return Outcome{}, &QuotaError{Task: task, RetryAfter: minRetryAfter}
	}
	return Outcome{}, &AllExhaustedError{Task: task, Attempts: attempts, LastErr: lastErr}
}

// invoke performs one backend call under the configured per-call timeout.
// A timeout of this call (not of the caller's context) is classified as a
// retryable backend failure.
func (r *Router) invoke(ctx context.Context, md *ModelDescriptor, req DispatchRequest) (BackendResponse, error) {
	callCtx := ctx
	if t := r.cfg.Retry.RequestTimeout.Std(); t > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	resp, err := md.Backend.Generate(callCtx, BackendRequest{
		Model:           md.Name,
		Payload:         req.Payload,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return resp, err
}

// record writes one ledger entry. The write survives caller cancellation;
// a failure is reported to the meter and otherwise swallowed.
func (r *Router) record(ctx context.Context, callerID, task, model string, usage Usage) {
	e := Entry{
		ID:               uuid.New().String(),
		CallerID:         callerID,
		Task:             task,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		At:               r.now(),
	}
	if err := r.ledger.Record(context.WithoutCancel(ctx), e); err != nil {
		r.meter.OnLedgerError(LedgerErrorEvent{Entry: e, Err: err})
	}
}

// snapshot pairs each candidate model with its current headroom and health.
func (r *Router) snapshot(models []*ModelDescriptor) []Candidate {
	now := r.now()
	candidates := make([]Candidate, 0, len(models))
	for _, md := range models {
		minute, day := md.Remaining(now)
		candidates = append(candidates, Candidate{
			Model:           md,
			MinuteRemaining: minute,
			DayRemaining:    day,
			Health:          r.health.State(md.Name, now),
		})
	}
	return candidates
}

// configOrderPolicy preserves the registry's configured order, keeping
// routing deterministic: primary first, then fallbacks by priority.
type configOrderPolicy struct{}

func (configOrderPolicy) Select(candidates []Candidate) []Candidate {
	return candidates
}

// discardLedger drops all entries (accounting disabled).
type discardLedger struct{}

func (discardLedger) Record(context.Context, Entry) error { return nil }
func (discardLedger) DailyTotal(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnRoute(RouteEvent)             {}
func (noopMeter) OnResult(ResultEvent)           {}
func (noopMeter) OnLedgerError(LedgerErrorEvent) {}
