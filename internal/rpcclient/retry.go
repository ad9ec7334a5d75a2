package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/chainforge/evmindex/pkg/config"
)

// retryableError reports whether err looks like a transient infrastructure
// failure worth retrying, as opposed to a request the provider will reject
// again unchanged (bad params, method not found, execution reverted).
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"):
		return true
	case strings.Contains(errStr, "429"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "rate limit"):
		return true
	case strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"),
		strings.Contains(errStr, "bad gateway"),
		strings.Contains(errStr, "service unavailable"),
		strings.Contains(errStr, "gateway timeout"):
		return true
	case strings.Contains(errStr, "connection pool"),
		strings.Contains(errStr, "no available connection"):
		return true
	}

	return false
}

func calculateBackoff(attempt int, cfg config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if max := float64(cfg.MaxBackoff.Duration); backoff > max {
		backoff = max
	}

	jitterRange := backoff * 0.25
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// retryWithBackoff runs fn, retrying on retryableError with jittered
// exponential backoff up to cfg.MaxAttempts times, and aborts immediately
// on context cancellation or a non-retryable error.
func retryWithBackoff(ctx context.Context, cfg config.RetryConfig, chain, method string, fn func() error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !retryableError(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, maxAttempts, err)
		}

		if attempt >= maxAttempts {
			break
		}

		backoff := calculateBackoff(attempt, cfg)
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w", attempt, maxAttempts, ctx.Err())
			}
		}

		retryInc(chain, method)
	}

	return fmt.Errorf("all %d attempts failed after %v (last error: %w)", maxAttempts, time.Since(start), lastErr)
}
