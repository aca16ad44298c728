package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, RetryDelay: time.Millisecond, MaxRetryDelay: 4 * time.Millisecond}
}

func TestRun_SingleAttemptByDefault(t *testing.T) {
	calls := 0
	err := Run(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	}, Config{}, nil, nil)

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "single attempt must return the raw error")
}

func TestRun_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retries uint32
	state := &State{Retries: &retries}

	err := Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	}, fastConfig(5), nil, state)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint32(2), retries)
	assert.Equal(t, 0, state.CurrentRetries)
}

func TestRun_Exhausted(t *testing.T) {
	calls := 0
	err := Run(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	}, fastConfig(2), nil, nil)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errBusy)
}

func TestRun_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("permission denied")
	calls := 0
	err := Run(context.Background(), func(context.Context) error {
		calls++
		return fatal
	}, fastConfig(5), func(err error) bool { return errors.Is(err, errBusy) }, nil)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRun_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 3, RetryDelay: time.Hour, MaxRetryDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, func(context.Context) error { return errBusy }, cfg, nil, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{RetryDelay: 200 * time.Millisecond, MaxRetryDelay: 2 * time.Second}

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},
		{40, 2 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.retry, cfg), "retry %d", tc.retry)
	}
}
