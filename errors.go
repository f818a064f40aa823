package taskrouter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Backend adapters classify raw responses into these once,
// at the boundary; the router's control flow only ever checks sentinels.
var (
	ErrUnknownTask        = errors.New("taskrouter: unknown task category")
	ErrRateLimited        = errors.New("taskrouter: rate limited by backend")
	ErrBackendUnavailable = errors.New("taskrouter: backend unavailable")
	ErrAuthFailed         = errors.New("taskrouter: authentication failed")
	ErrInvalidRequest     = errors.New("taskrouter: invalid request")
	ErrContentBlocked     = errors.New("taskrouter: content blocked by safety policy")
)

// QuotaError reports that every candidate model for a task was denied by its
// quota bucket before any backend call was made. RetryAfter is the minimum
// wait across the denied candidates; the caller can decide whether to wait.
type QuotaError struct {
	Task       string
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("taskrouter: task=%s: all candidate quotas exhausted, retry after %s",
		e.Task, e.RetryAfter)
}

// AllExhaustedError reports that every candidate model failed or ran out of
// retry budget. Attempts holds the terminal error per attempted model.
type AllExhaustedError struct {
	Task     string
	Attempts []Attempt
	LastErr  error
}

func (e *AllExhaustedError) Error() string {
	models := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		models = append(models, a.Model)
	}
	return fmt.Sprintf("taskrouter: task=%s: all candidates exhausted (tried %s): %v",
		e.Task, strings.Join(models, ", "), e.LastErr)
}

func (e *AllExhaustedError) Unwrap() error {
	return e.LastErr
}

// ConfigError reports an invalid configuration. It is returned only from
// construction paths; dispatch never produces it.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "taskrouter: config: " + e.Detail
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

// IsFatal returns true if the error should not be retried against the same
// model; the router falls back to the next candidate immediately.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrContentBlocked)
}

// IsRetryable returns true if the error is transient and worth retrying
// against the same model after a backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBackendUnavailable)
}
