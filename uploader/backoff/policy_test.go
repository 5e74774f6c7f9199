package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

func TestDelayFor_ExponentialSequence(t *testing.T) {
	p := Policy{
		MaxAttempts: 15,
		MinWait:     1 * time.Second,
		MaxWait:     240 * time.Second,
		Multiplier:  0.1,
	}

	// 1.0, 1.1, 1.21 seconds for the first three retries
	assert.Equal(t, 1000*time.Millisecond, p.DelayFor(0))
	assert.Equal(t, 1100*time.Millisecond, p.DelayFor(1))
	assert.Equal(t, 1210*time.Millisecond, p.DelayFor(2))
}

func TestDelayFor_ClampedAndMonotonic(t *testing.T) {
	p := Policy{
		MaxAttempts: 50,
		MinWait:     1 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  0.5,
	}

	prev := time.Duration(0)
	saturated := false
	for attempt := 0; attempt < 50; attempt++ {
		d := p.DelayFor(attempt)
		assert.GreaterOrEqual(t, d, p.MinWait)
		assert.LessOrEqual(t, d, p.MaxWait)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing")
		if d == p.MaxWait {
			saturated = true
		}
		prev = d
	}
	assert.True(t, saturated, "curve should saturate at MaxWait")
}

func testPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		MinWait:     time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  0.1,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	op := func() error {
		calls++
		if calls <= 2 {
			return uperrors.Newf("upload chunk", uperrors.ClassNetwork, "connection reset")
		}
		return nil
	}

	retries, err := testPolicy(15).Do(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	op := func() error {
		calls++
		return uperrors.Newf("upload chunk", uperrors.ClassNetwork, "still broken")
	}

	retries, err := testPolicy(4).Do(context.Background(), op)
	require.Error(t, err)
	assert.Equal(t, 4, calls, "never more than MaxAttempts attempts")
	assert.Equal(t, 3, retries)
	assert.True(t, uperrors.IsRetryable(err), "last error surfaces as-is")
}

func TestDo_FatalErrorNotRetried(t *testing.T) {
	calls := 0
	fatal := uperrors.Newf("allocate", uperrors.ClassAuth, "HTTP 401")
	op := func() error {
		calls++
		return fatal
	}

	retries, err := testPolicy(15).Do(context.Background(), op)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)
	assert.ErrorIs(t, err, fatal)
}

func TestDo_UnclassifiedErrorNotRetried(t *testing.T) {
	calls := 0
	op := func() error {
		calls++
		return errors.New("plain failure")
	}

	_, err := testPolicy(15).Do(context.Background(), op)
	assert.Equal(t, 1, calls)
	assert.Error(t, err)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := func() error {
		cancel()
		return uperrors.Newf("upload chunk", uperrors.ClassNetwork, "timeout")
	}

	p := Policy{
		MaxAttempts: 15,
		MinWait:     time.Hour,
		MaxWait:     time.Hour,
		Multiplier:  0.1,
	}
	_, err := p.Do(ctx, op)
	assert.ErrorIs(t, err, context.Canceled)
}
