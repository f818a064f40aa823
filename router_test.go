package taskrouter_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tr "github.com/journalmuse/taskrouter"
	"github.com/journalmuse/taskrouter/backend/mock"
	"github.com/journalmuse/taskrouter/ledger"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingSleeper captures backoff delays instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// recordingMeter captures meter events.
type recordingMeter struct {
	mu           sync.Mutex
	routes       []tr.RouteEvent
	results      []tr.ResultEvent
	ledgerErrors []tr.LedgerErrorEvent
}

func (m *recordingMeter) OnRoute(e tr.RouteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, e)
}

func (m *recordingMeter) OnResult(e tr.ResultEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, e)
}

func (m *recordingMeter) OnLedgerError(e tr.LedgerErrorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgerErrors = append(m.ledgerErrors, e)
}

// failingLedger always fails writes.
type failingLedger struct{}

func (failingLedger) Record(context.Context, tr.Entry) error { return errors.New("disk full") }
func (failingLedger) DailyTotal(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func testConfig(models []tr.ModelConfig, tasks []tr.TaskConfig) tr.Config {
	return tr.Config{
		Retry: tr.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: tr.Duration(10 * time.Millisecond),
			MaxBackoff:     tr.Duration(200 * time.Millisecond),
			RequestTimeout: tr.Duration(time.Second),
		},
		Models: models,
		Tasks:  tasks,
	}
}

func TestDispatch_Success(t *testing.T) {
	be := mock.New(mock.WithContent("a calm, reflective entry"))
	led := ledger.NewMemoryLedger()
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{{Name: "gemma-3-27b-it", Backend: "mock", RPM: 10, RPD: 100}},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"gemma-3-27b-it"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithLedger(led), tr.WithClock(clock.Now))
	require.NoError(t, err)

	out, err := r.Dispatch(context.Background(), tr.DispatchRequest{
		Task:     "analysis",
		Payload:  tr.Text("today I went for a long walk"),
		CallerID: "user-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "gemma-3-27b-it", out.Model)
	assert.Equal(t, "a calm, reflective entry", out.Content)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int64(30), out.Usage.TotalTokens)

	entries := led.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "user-42", entries[0].CallerID)
	assert.Equal(t, "analysis", entries[0].Task)
	assert.Equal(t, "gemma-3-27b-it", entries[0].Model)
	assert.Equal(t, int64(10), entries[0].PromptTokens)
	assert.Equal(t, int64(20), entries[0].CompletionTokens)
	assert.NotEmpty(t, entries[0].ID)

	total, err := r.DailyTotal(context.Background(), "user-42", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)
}

func TestDispatch_FallbackRecordsFallbackModel(t *testing.T) {
	be := mock.New()
	led := ledger.NewMemoryLedger()
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{
			{Name: "model-a", Backend: "mock", RPM: 1, RPD: 100},
			{Name: "model-b", Backend: "mock", RPM: 5, RPD: 100},
		},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a", "model-b"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithLedger(led), tr.WithClock(clock.Now))
	require.NoError(t, err)

	req := tr.DispatchRequest{Task: "analysis", Payload: tr.Text("hi"), CallerID: "u"}

	out, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "model-a", out.Model)

	// model-a's minute window is now exhausted; the fallback serves.
	out, err = r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "model-b", out.Model)

	entries := led.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "model-a", entries[0].Model)
	assert.Equal(t, "model-b", entries[1].Model)
}

func TestDispatch_ThreeCallsSplitAcrossCandidates(t *testing.T) {
	be := mock.New()
	led := ledger.NewMemoryLedger()
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{
			{Name: "model-a", Backend: "mock", RPM: 2, RPD: 100},
			{Name: "model-b", Backend: "mock", RPM: 5, RPD: 100},
		},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a", "model-b"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithLedger(led), tr.WithClock(clock.Now))
	require.NoError(t, err)

	var models []string
	for i := 0; i < 3; i++ {
		out, err := r.Dispatch(context.Background(), tr.DispatchRequest{
			Task:     "analysis",
			Payload:  tr.Text(fmt.Sprintf("entry %d", i)),
			CallerID: "u",
		})
		require.NoError(t, err)
		models = append(models, out.Model)
	}

	assert.Equal(t, []string{"model-a", "model-a", "model-b"}, models)
	require.Len(t, led.Entries(), 3)
}

func TestDispatch_RetryableBackoffThenSuccess(t *testing.T) {
	be := mock.New(mock.WithFailFirst(2, tr.ErrRateLimited))
	led := ledger.NewMemoryLedger()
	clock := newFakeClock()
	sleeper := &recordingSleeper{}

	cfg := testConfig(
		[]tr.ModelConfig{{Name: "model-a", Backend: "mock", RPM: 10, RPD: 100}},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithLedger(led), tr.WithClock(clock.Now), tr.WithSleep(sleeper.Sleep))
	require.NoError(t, err)

	out, err := r.Dispatch(context.Background(), tr.DispatchRequest{
		Task: "analysis", Payload: tr.Text("hi"), CallerID: "u",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 3, be.CallCount())

	// Exactly one entry for the call that served the request.
	require.Len(t, led.Entries(), 1)

	delays := sleeper.Delays()
	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0])
}

func TestDispatch_FatalErrorNeverRetriedOnSameModel(t *testing.T) {
	badBE := mock.New(mock.WithName("bad"), mock.WithError(tr.ErrAuthFailed))
	goodBE := mock.New(mock.WithName("good"))
	sleeper := &recordingSleeper{}
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{
			{Name: "model-a", Backend: "bad", RPM: 10, RPD: 100},
			{Name: "model-b", Backend: "good", RPM: 10, RPD: 100},
		},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a", "model-b"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{badBE, goodBE},
		tr.WithClock(clock.Now), tr.WithSleep(sleeper.Sleep))
	require.NoError(t, err)

	out, err := r.Dispatch(context.Background(), tr.DispatchRequest{
		Task: "analysis", Payload: tr.Text("hi"), CallerID: "u",
	})
	require.NoError(t, err)
	assert.Equal(t, "model-b", out.Model)
	assert.Equal(t, 2, out.Attempts)

	// Fatal advances immediately: one call to the bad backend, no backoff.
	assert.EqualValues(t, 1, badBE.CallCount())
	assert.Empty(t, sleeper.Delays())
}

func TestDispatch_QuotaExhaustedAcrossAllCandidates(t *testing.T) {
	be := mock.New()
	led := ledger.NewMemoryLedger()
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{
			{Name: "model-a", Backend: "mock", RPM: 1, RPD: 100},
			{Name: "model-b", Backend: "mock", RPM: 1, RPD: 100},
		},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a", "model-b"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithLedger(led), tr.WithClock(clock.Now))
	require.NoError(t, err)

	req := tr.DispatchRequest{Task: "analysis", Payload: tr.Text("hi"), CallerID: "u"}

	for i := 0; i < 2; i++ {
		_, err := r.Dispatch(context.Background(), req)
		require.NoError(t, err)
	}
	entriesBefore := len(led.Entries())

	_, err = r.Dispatch(context.Background(), req)
	var qe *tr.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "analysis", qe.Task)
	assert.GreaterOrEqual(t, qe.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, qe.RetryAfter, time.Minute)

	// A purely quota-denied dispatch never touches the ledger or backend.
	assert.Equal(t, entriesBefore, len(led.Entries()))
	assert.EqualValues(t, 2, be.CallCount())

	// Once the minute window rolls over, dispatch succeeds again.
	clock.Advance(61 * time.Second)
	_, err = r.Dispatch(context.Background(), req)
	require.NoError(t, err)
}

func TestDispatch_AllCandidatesExhausted(t *testing.T) {
	be := mock.New(mock.WithError(tr.ErrBackendUnavailable))
	clock := newFakeClock()
	sleeper := &recordingSleeper{}

	cfg := testConfig(
		[]tr.ModelConfig{
			{Name: "model-a", Backend: "mock", RPM: 10, RPD: 100},
			{Name: "model-b", Backend: "mock", RPM: 10, RPD: 100},
		},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a", "model-b"}}},
	)
	cfg.Retry.MaxAttempts = 2

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithClock(clock.Now), tr.WithSleep(sleeper.Sleep))
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), tr.DispatchRequest{
		Task: "analysis", Payload: tr.Text("hi"), CallerID: "u",
	})
	var ae *tr.AllExhaustedError
	require.ErrorAs(t, err, &ae)
	require.Len(t, ae.Attempts, 2)
	assert.Equal(t, "model-a", ae.Attempts[0].Model)
	assert.Equal(t, "model-b", ae.Attempts[1].Model)
	assert.ErrorIs(t, err, tr.ErrBackendUnavailable)

	// One backoff per candidate between its two attempts.
	assert.Len(t, sleeper.Delays(), 2)
}

func TestDispatch_LedgerWriteFailureDoesNotFailDispatch(t *testing.T) {
	be := mock.New()
	meter := &recordingMeter{}
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{{Name: "model-a", Backend: "mock", RPM: 10, RPD: 100}},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithLedger(failingLedger{}), tr.WithMeter(meter), tr.WithClock(clock.Now))
	require.NoError(t, err)

	out, err := r.Dispatch(context.Background(), tr.DispatchRequest{
		Task: "analysis", Payload: tr.Text("hi"), CallerID: "u",
	})
	require.NoError(t, err)
	assert.Equal(t, "model-a", out.Model)

	require.Len(t, meter.ledgerErrors, 1)
	assert.Equal(t, "model-a", meter.ledgerErrors[0].Entry.Model)
}

func TestDispatch_UnknownTask(t *testing.T) {
	be := mock.New()
	cfg := testConfig(
		[]tr.ModelConfig{{Name: "model-a", Backend: "mock", RPM: 10, RPD: 100}},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be})
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), tr.DispatchRequest{Task: "visualization"})
	assert.ErrorIs(t, err, tr.ErrUnknownTask)
}

func TestDispatch_DefaultTask(t *testing.T) {
	be := mock.New()
	cfg := testConfig(
		[]tr.ModelConfig{{Name: "model-a", Backend: "mock", RPM: 10, RPD: 100}},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a"}}},
	)
	cfg.DefaultTask = "analysis"

	r, err := tr.NewRouter(cfg, []tr.Backend{be})
	require.NoError(t, err)

	out, err := r.Dispatch(context.Background(), tr.DispatchRequest{
		Payload: tr.Text("hi"), CallerID: "u",
	})
	require.NoError(t, err)
	assert.Equal(t, "model-a", out.Model)
}

func TestDispatch_CanceledDuringBackoff(t *testing.T) {
	be := mock.New(mock.WithError(tr.ErrRateLimited))
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{{Name: "model-a", Backend: "mock", RPM: 10, RPD: 100}},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a"}}},
	)

	canceledSleep := func(context.Context, time.Duration) error {
		return context.Canceled
	}

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithClock(clock.Now), tr.WithSleep(canceledSleep))
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), tr.DispatchRequest{
		Task: "analysis", Payload: tr.Text("hi"), CallerID: "u",
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, be.CallCount())
}

func TestDispatch_SkipsModelWithOpenCircuit(t *testing.T) {
	badBE := mock.New(mock.WithName("bad"), mock.WithError(tr.ErrBackendUnavailable))
	goodBE := mock.New(mock.WithName("good"))
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{
			{Name: "model-a", Backend: "bad", RPM: 100, RPD: 1000},
			{Name: "model-b", Backend: "good", RPM: 100, RPD: 1000},
		},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a", "model-b"}}},
	)
	cfg.Retry.MaxAttempts = 1

	r, err := tr.NewRouter(cfg, []tr.Backend{badBE, goodBE}, tr.WithClock(clock.Now))
	require.NoError(t, err)

	req := tr.DispatchRequest{Task: "analysis", Payload: tr.Text("hi"), CallerID: "u"}

	// Three failures open model-a's circuit.
	for i := 0; i < 3; i++ {
		out, err := r.Dispatch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "model-b", out.Model)
	}
	assert.EqualValues(t, 3, badBE.CallCount())

	// With the circuit open, model-a is not called at all.
	out, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "model-b", out.Model)
	assert.EqualValues(t, 3, badBE.CallCount())
}

func TestNewRouter_ConfigErrors(t *testing.T) {
	cfg := testConfig(
		[]tr.ModelConfig{{Name: "model-a", Backend: "mock", RPM: 10, RPD: 100}},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a"}}},
	)

	_, err := tr.NewRouter(cfg, nil)
	var ce *tr.ConfigError
	assert.ErrorAs(t, err, &ce)

	// Model references a backend that was never registered.
	_, err = tr.NewRouter(cfg, []tr.Backend{mock.New(mock.WithName("other"))})
	assert.ErrorAs(t, err, &ce)
}

func TestDispatch_ConcurrentCallersRespectLimits(t *testing.T) {
	be := mock.New()
	led := ledger.NewMemoryLedger()
	clock := newFakeClock()

	cfg := testConfig(
		[]tr.ModelConfig{
			{Name: "model-a", Backend: "mock", RPM: 5, RPD: 100},
			{Name: "model-b", Backend: "mock", RPM: 5, RPD: 100},
		},
		[]tr.TaskConfig{{Name: "analysis", Models: []string{"model-a", "model-b"}}},
	)

	r, err := tr.NewRouter(cfg, []tr.Backend{be},
		tr.WithLedger(led), tr.WithClock(clock.Now))
	require.NoError(t, err)

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = r.Dispatch(context.Background(), tr.DispatchRequest{
				Task: "analysis", Payload: tr.Text("hi"), CallerID: "u",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	// 10 admissions exist across the two models; never one more.
	assert.Equal(t, 10, succeeded)
	assert.EqualValues(t, 10, be.CallCount())
	assert.Len(t, led.Entries(), 10)
}
