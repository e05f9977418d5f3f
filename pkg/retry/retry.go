package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// NonRetryableError marks an error that must end the retry loop.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so Do returns it immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return stderrors.As(err, &nre)
}

// Retryable reports whether Do should try again after err. Errors marked
// NonRetryable and errors classified invalid or fatal are final.
func Retryable(err error) bool {
	if err == nil || IsNonRetryable(err) {
		return false
	}
	return !errors.IsInvalid(err) && !errors.IsFatal(err)
}

// Config controls the backoff.
type Config struct {
	MaxAttempts  int           // attempts including the first; <= 0 means one
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // upper bound for any delay
	Multiplier   float64       // growth factor per attempt
	AddJitter    bool          // add up to 25% random delay

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultConfig is three attempts between 100ms and 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick suits interactive calls: ten attempts capped at one second apart.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Persistent suits startup dependencies that may take a while to appear.
func Persistent() Config {
	return Config{
		MaxAttempts:  30,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) normalized() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative delay or multiplier")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// Do calls fn until it succeeds, returns a final error, attempts run out
// or ctx ends.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, stderrors.Join(ctx.Err(), lastErr))
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}
		sleep := delay
		if cfg.AddJitter && delay >= 4 {
			sleep += rand.N(delay / 4)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff: %w", stderrors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}

		next := float64(delay) * cfg.Multiplier
		if next > float64(cfg.MaxDelay) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(next)
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult is Do for functions returning a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
