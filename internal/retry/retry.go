// Package retry implements exponential backoff with jitter for calls to
// external services.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultConfig doubles the delay on each attempt with 20% jitter
func DefaultConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
		JitterFactor:  0.2,
	}
}

type ErrorClassifier func(error) bool

type Retrier struct {
	config      RetryConfig
	isRetryable ErrorClassifier
	logger      *slog.Logger
}

func NewRetrier(config RetryConfig, classifier ErrorClassifier, logger *slog.Logger) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		config:      config,
		isRetryable: classifier,
		logger:      logger,
	}
}

// Do runs operation until it succeeds, fails with a non-retryable error or
// runs out of attempts. The last error stays in the chain so callers can
// still classify it. A cancelled ctx stops the wait between attempts.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error
	var totalWaitTime time.Duration

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		attemptStart := time.Now()
		lastErr = operation(ctx)
		attemptDuration := time.Since(attemptStart)

		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("operation succeeded after retry",
					"attempt", attempt,
					"total_duration_ms", time.Since(start).Milliseconds(),
					"total_wait_time_ms", totalWaitTime.Milliseconds())
			}
			return nil
		}

		isRetryable := r.isRetryable != nil && r.isRetryable(lastErr)
		r.logger.Warn("operation attempt failed",
			"attempt", attempt,
			"error", lastErr,
			"retryable", isRetryable,
			"attempt_duration_ms", attemptDuration.Milliseconds())

		if !isRetryable {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		totalWaitTime += delay

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d (%v): %w", attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts (total: %dms, wait: %dms): %w",
		r.config.MaxAttempts, time.Since(start).Milliseconds(), totalWaitTime.Milliseconds(), lastErr)
}

func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))

	if r.config.MaxDelay > 0 && delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	// jitter spreads workers that failed together
	jitter := 1.0 + (rand.Float64()-0.5)*r.config.JitterFactor
	delay *= jitter

	return time.Duration(delay)
}
