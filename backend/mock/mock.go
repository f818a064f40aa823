package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/journalmuse/taskrouter"
)

// Backend is a scriptable in-memory backend for testing.
type Backend struct {
	name         string
	latency      time.Duration
	staticErr    error
	failFirst    int
	failErr      error
	content      string
	usage        taskrouter.Usage
	callCount    atomic.Int64
	responseFunc func(taskrouter.BackendRequest) (taskrouter.BackendResponse, error)
}

var _ taskrouter.Backend = (*Backend)(nil)

// Option configures a mock Backend.
type Option func(*Backend)

// New creates a mock backend with the given options.
func New(opts ...Option) *Backend {
	b := &Backend{
		name:    "mock",
		content: "Hello from mock backend",
		usage: taskrouter.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithName sets the backend name.
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithError makes the backend always return this error.
func WithError(err error) Option {
	return func(b *Backend) { b.staticErr = err }
}

// WithFailFirst makes the first n calls fail with err, after which calls
// succeed. Useful for exercising retry schedules.
func WithFailFirst(n int, err error) Option {
	return func(b *Backend) {
		b.failFirst = n
		b.failErr = err
	}
}

// WithContent sets the response content.
func WithContent(content string) Option {
	return func(b *Backend) { b.content = content }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u taskrouter.Usage) Option {
	return func(b *Backend) { b.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(taskrouter.BackendRequest) (taskrouter.BackendResponse, error)) Option {
	return func(b *Backend) { b.responseFunc = fn }
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Generate(ctx context.Context, req taskrouter.BackendRequest) (taskrouter.BackendResponse, error) {
	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return taskrouter.BackendResponse{}, ctx.Err()
		}
	}

	count := b.callCount.Add(1)

	if b.responseFunc != nil {
		return b.responseFunc(req)
	}
	if b.staticErr != nil {
		return taskrouter.BackendResponse{}, b.staticErr
	}
	if int(count) <= b.failFirst {
		return taskrouter.BackendResponse{}, b.failErr
	}

	return taskrouter.BackendResponse{
		Content:      b.content,
		FinishReason: "stop",
		Usage:        b.usage,
	}, nil
}

// CallCount returns the number of calls made to the backend.
func (b *Backend) CallCount() int64 { return b.callCount.Load() }
