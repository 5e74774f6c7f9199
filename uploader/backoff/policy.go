// Package backoff retries fallible upload operations with exponential
// backoff. Only failures classified as retryable are attempted again;
// everything else surfaces immediately.
package backoff

import (
	"context"
	"math"
	"time"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

// Policy describes the retry budget and backoff curve for one operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// MinWait is the wait before the first retry and the lower clamp of the
	// backoff curve.
	MinWait time.Duration

	// MaxWait is the upper clamp of the backoff curve.
	MaxWait time.Duration

	// Multiplier controls the growth of the curve:
	// delay(n) = MinWait * (1+Multiplier)^n, clamped to [MinWait, MaxWait].
	Multiplier float64
}

// DefaultPolicy returns the stock retry behavior: up to 15 attempts with
// waits between 1s and 240s growing by 10% per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 15,
		MinWait:     1 * time.Second,
		MaxWait:     240 * time.Second,
		Multiplier:  0.1,
	}
}

// DelayFor returns the wait before the retry following attempt number
// `attempt` (zero-based). The result never leaves [MinWait, MaxWait].
func (p Policy) DelayFor(attempt int) time.Duration {
	d := time.Duration(float64(p.MinWait) * math.Pow(1+p.Multiplier, float64(attempt)))
	if d < p.MinWait {
		d = p.MinWait
	}
	if d > p.MaxWait {
		d = p.MaxWait
	}
	return d
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// the attempt budget, or the context is cancelled. It returns the number of
// retries consumed (attempts beyond the first) together with the last error.
func (p Policy) Do(ctx context.Context, op func() error) (int, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		err := op()
		if err == nil {
			return attempt, nil
		}

		if !uperrors.IsRetryable(err) {
			return attempt, err
		}
		if attempt+1 >= p.MaxAttempts {
			return attempt, err
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(p.DelayFor(attempt)):
		}
	}
}
