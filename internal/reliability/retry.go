package reliability

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy defines the interface for retry policies
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (zero-based) should be followed by
	// another one, and after which delay.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
}

// ExponentialBackoff implements exponential backoff retry policy
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool

	// Retryable classifies errors. Nil retries every error.
	Retryable func(error) bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts || !retryable(e.Retryable, err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// NextDelay returns the delay after attempt, capped at MaxInterval.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15%
	if e.Jitter {
		delay += (rand.Float64()*0.3 - 0.15) * delay
	}

	return time.Duration(delay)
}

// FixedDelay implements a fixed delay retry policy
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
	Retryable   func(error) bool
}

// NewFixedDelay creates a new fixed delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		Delay:       delay,
		MaxAttempts: maxRetries,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts || !retryable(f.Retryable, err) {
		return false, 0
	}
	return true, f.Delay
}

func retryable(classify func(error) bool, err error) bool {
	if err == nil {
		return false
	}
	if classify == nil {
		return true
	}
	return classify(err)
}

// Retry calls fn until it succeeds, the policy gives up or ctx is done. The
// last error of fn is returned when the policy gives up.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		again, delay := policy.ShouldRetry(attempt, err)
		if !again {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
