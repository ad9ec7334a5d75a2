package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/chainforge/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

type mockNetError struct {
	msg string
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return true }
func (e *mockNetError) Temporary() bool { return true }

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil", err: nil, retryable: false},
		{name: "net error", err: &mockNetError{msg: "dial timeout"}, retryable: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, retryable: true},
		{name: "rate limited", err: errors.New("429 Too Many Requests"), retryable: true},
		{name: "service unavailable", err: errors.New("503 Service Unavailable"), retryable: true},
		{name: "execution reverted", err: errors.New("execution reverted: insufficient balance"), retryable: false},
		{name: "method not found", err: errors.New("the method foo does not exist"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retryable, retryableError(tt.err))
		})
	}
}

func TestRetryWithBackoffSucceedsEventually(t *testing.T) {
	cfg := config.RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    config.NewDuration(time.Millisecond),
		MaxBackoff:        config.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}

	attempts := 0
	err := retryWithBackoff(context.Background(), cfg, "testchain", "eth_test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("503 Service Unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryWithBackoffStopsOnNonRetryable(t *testing.T) {
	cfg := config.RetryConfig{MaxAttempts: 5}

	attempts := 0
	err := retryWithBackoff(context.Background(), cfg, "testchain", "eth_test", func() error {
		attempts++
		return errors.New("execution reverted")
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	cfg := config.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: config.NewDuration(50 * time.Millisecond),
		MaxBackoff:     config.NewDuration(50 * time.Millisecond),
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryWithBackoff(ctx, cfg, "testchain", "eth_test", func() error {
		attempts++
		cancel()
		return errors.New("503 Service Unavailable")
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	cfg := config.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: config.NewDuration(time.Millisecond),
		MaxBackoff:     config.NewDuration(time.Millisecond),
	}

	attempts := 0
	err := retryWithBackoff(context.Background(), cfg, "testchain", "eth_test", func() error {
		attempts++
		return errors.New("503 Service Unavailable")
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts)
	require.Contains(t, err.Error(), fmt.Sprintf("all %d attempts failed", cfg.MaxAttempts))
}
