package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(5), func() error {
		calls++
		if calls < 3 {
			return stderrors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUp(t *testing.T) {
	flaky := stderrors.New("flaky")
	calls := 0
	err := Do(context.Background(), fast(4), func() error {
		calls++
		return flaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestDo_FinalErrorsStopImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"non-retryable", NonRetryable(stderrors.New("bad request"))},
		{"invalid", errors.WrapInvalid(errors.ErrInvalidConfig, "c", "m", "a")},
		{"fatal", errors.WrapFatal(stderrors.New("broken"), "c", "m", "a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast(5), func() error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	flaky := stderrors.New("flaky")
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: time.Second}, func() error {
		calls++
		cancel()
		return flaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	cfg := fast(3)
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func() error { return stderrors.New("flaky") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Config{}, func() error {
		calls++
		return stderrors.New("flaky")
	})
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), fast(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", stderrors.New("flaky")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestPresets(t *testing.T) {
	for name, cfg := range map[string]Config{"default": DefaultConfig(), "quick": Quick(), "persistent": Persistent()} {
		_, err := cfg.normalized()
		assert.NoError(t, err, name)
		assert.Greater(t, cfg.MaxAttempts, 1, name)
	}
}
