// Package retry runs an attempt function with capped exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config contains configuration for exponential backoff retries
type Config struct {
	MaxRetries    int           // Retries after the first attempt (0 = single attempt)
	RetryDelay    time.Duration // Initial retry delay
	MaxRetryDelay time.Duration // Maximum retry delay cap
}

// DefaultConfig returns the default configuration: a single attempt, no retries.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    0,
		RetryDelay:    200 * time.Millisecond,
		MaxRetryDelay: 2 * time.Second,
	}
}

// State tracks retries across calls to Run
type State struct {
	CurrentRetries int
	Retries        *uint32 // Atomic counter for total retries (optional)
}

// AttemptFunc performs one attempt. A nil error ends the loop.
type AttemptFunc func(ctx context.Context) error

// RetryableFunc decides whether a failed attempt is worth retrying.
type RetryableFunc func(err error) bool

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Run executes fn, retrying retryable failures with exponential backoff.
//
// Backoff schedule with RetryDelay=200ms, MaxRetryDelay=2s:
//   - Retry 1: 200ms
//   - Retry 2: 400ms
//   - Retry 3: 800ms
//   - Retry 4: 1.6s
//   - Retry 5+: 2s (cap)
//
// Returns nil on success, the attempt's error if it is not retryable,
// *ExhaustedError once MaxRetries is exceeded, or ctx.Err() if ctx is
// cancelled while waiting.
func Run(
	ctx context.Context,
	fn AttemptFunc,
	cfg Config,
	retryable RetryableFunc,
	state *State,
) error {
	if state == nil {
		state = &State{}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}

		if retryable != nil && !retryable(err) {
			return err
		}

		if state.CurrentRetries >= cfg.MaxRetries {
			attempts := state.CurrentRetries + 1
			state.CurrentRetries = 0
			if cfg.MaxRetries == 0 {
				return err
			}
			return &ExhaustedError{Attempts: attempts, Err: err}
		}

		state.CurrentRetries++
		if state.Retries != nil {
			atomic.AddUint32(state.Retries, 1)
		}

		delay := Backoff(state.CurrentRetries, cfg)

		slog.Warn("retry: attempt failed, retrying",
			"error", err,
			"retry", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			state.CurrentRetries = 0
			return ctx.Err()
		}
	}
}

// Backoff returns the delay before the given retry (1-based):
// RetryDelay * 2^(retry-1), capped at MaxRetryDelay.
func Backoff(retry int, cfg Config) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > 30 {
		retry = 30
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(retry-1))
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
