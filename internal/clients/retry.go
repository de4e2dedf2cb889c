package clients

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
	Jitter         float64       // Random jitter factor (0-1)
	CallTimeout    time.Duration // Deadline for a single attempt, 0 disables it
}

// DefaultRetryConfig returns production-ready retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		CallTimeout:    20 * time.Second,
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts      int
	LastError     error
	TotalDuration time.Duration
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config  *RetryConfig
	logger  *logrus.Entry
	onRetry func(operation string)
}

// NewRetrier creates a new retrier with the given config
func NewRetrier(config *RetryConfig, logger *logrus.Entry) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Retrier{config: config, logger: logger}
}

// OnRetry registers a hook called before every backoff sleep
func (r *Retrier) OnRetry(fn func(operation string)) {
	r.onRetry = fn
}

// ShouldRetry determines if an error should be retried
func (r *Retrier) ShouldRetry(err error) bool {
	return IsRetryable(err)
}

// CalculateBackoff calculates the backoff duration for a given attempt
func (r *Retrier) CalculateBackoff(attempt int, retryAfter time.Duration) time.Duration {
	// Use the server hint if provided
	if retryAfter > 0 {
		return retryAfter
	}

	backoff := float64(r.config.InitialBackoff) * math.Pow(r.config.BackoffFactor, float64(attempt))

	if r.config.Jitter > 0 {
		jitter := backoff * r.config.Jitter * (rand.Float64()*2 - 1)
		backoff += jitter
	}

	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}

	return time.Duration(backoff)
}

// ParseRetryAfter extracts the Retry-After duration from an HTTP response
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	// Shopify sends fractional seconds ("2.0")
	if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}

	return 0
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Do executes fn, retrying transient failures with exponential backoff.
// Each attempt runs under its own CallTimeout; an attempt that times out is retried like a throttled one.
func (r *Retrier) Do(ctx context.Context, operation string, fn RetryableFunc) *RetryResult {
	return r.DoIf(ctx, operation, r.ShouldRetry, fn)
}

// DoIf is Do with its own retry predicate. Calls that are not safe to repeat after an
// unknown outcome pass IsRateLimited, since a throttled request was never applied.
func (r *Retrier) DoIf(ctx context.Context, operation string, shouldRetry func(error) bool, fn RetryableFunc) *RetryResult {
	result := &RetryResult{}
	startTime := time.Now()

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := r.attempt(ctx, fn)
		result.LastError = err

		if err == nil {
			result.TotalDuration = time.Since(startTime)
			return result
		}

		// The caller gave up; its own deadline is not ours to retry
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		if !shouldRetry(err) {
			result.TotalDuration = time.Since(startTime)
			return result
		}

		if attempt >= r.config.MaxRetries {
			result.LastError = fmt.Errorf("max retries exceeded for %s: %w", operation, err)
			result.TotalDuration = time.Since(startTime)
			return result
		}

		backoff := r.CalculateBackoff(attempt, retryAfterOf(err))
		r.logger.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt + 1,
			"backoff":   backoff.String(),
		}).WithError(err).Debug("Retrying catalog call")
		if r.onRetry != nil {
			r.onRetry(operation)
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(backoff):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

func (r *Retrier) attempt(ctx context.Context, fn RetryableFunc) error {
	if r.config.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return fn(callCtx)
}
