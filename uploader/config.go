package uploader

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gdcc/go-dvuploader/uploader/backoff"
)

// Config holds the tunable parameters of an upload session. It is built
// once, validated by New and never mutated afterwards; all workers share the
// same value.
type Config struct {
	// MaxRetries is the attempt budget per remote operation, including the
	// first attempt.
	MaxRetries int

	// MinRetryWait is the wait before the first retry and the lower clamp
	// of the backoff curve.
	MinRetryWait time.Duration

	// MaxRetryWait is the upper clamp of the backoff curve.
	MaxRetryWait time.Duration

	// RetryMultiplier controls backoff growth per attempt.
	RetryMultiplier float64

	// MaxPackageSize is the byte size above which a file must be uploaded
	// in parts. Files at or below it go single-shot when the server offers
	// a single URL.
	MaxPackageSize int64

	// ParallelUploads is the number of files in flight at once.
	ParallelUploads int

	// ParallelChunks bounds concurrent chunk transfers across all files.
	ParallelChunks int
}

// DefaultConfig returns the stock tuning: 15 attempts with 1s-240s backoff
// growing 10% per attempt, a 2 GiB single-package threshold, one file at a
// time and CPU-scaled chunk parallelism.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      15,
		MinRetryWait:    1 * time.Second,
		MaxRetryWait:    240 * time.Second,
		RetryMultiplier: 0.1,
		MaxPackageSize:  2 * 1024 * 1024 * 1024,
		ParallelUploads: 1,
		ParallelChunks:  defaultChunkConcurrency(),
	}
}

func defaultChunkConcurrency() int {
	c := runtime.NumCPU() * 3
	if c > 20 {
		c = 20
	}
	if c < 2 {
		c = 2
	}
	return c
}

func (c Config) validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("MaxRetries must be at least 1, got %d", c.MaxRetries)
	}
	if c.MinRetryWait <= 0 || c.MaxRetryWait < c.MinRetryWait {
		return fmt.Errorf("retry waits must satisfy 0 < MinRetryWait <= MaxRetryWait")
	}
	if c.RetryMultiplier < 0 {
		return fmt.Errorf("RetryMultiplier must not be negative, got %f", c.RetryMultiplier)
	}
	if c.MaxPackageSize <= 0 {
		return fmt.Errorf("MaxPackageSize must be positive, got %d", c.MaxPackageSize)
	}
	if c.ParallelUploads < 1 {
		return fmt.Errorf("ParallelUploads must be at least 1, got %d", c.ParallelUploads)
	}
	if c.ParallelChunks < 1 {
		return fmt.Errorf("ParallelChunks must be at least 1, got %d", c.ParallelChunks)
	}
	return nil
}

func (c Config) retryPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: c.MaxRetries,
		MinWait:     c.MinRetryWait,
		MaxWait:     c.MaxRetryWait,
		Multiplier:  c.RetryMultiplier,
	}
}
