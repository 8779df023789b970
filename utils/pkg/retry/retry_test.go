package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return http.StatusText(int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestWapor_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("succeeds on first attempt", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(context.Background(), fastConfig(), func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("retries transient errors until success", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		var retried []int
		cfg := fastConfig()
		cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }
		err := Do(context.Background(), cfg, func() error {
			attempts++
			if attempts < 3 {
				return statusErr(http.StatusServiceUnavailable)
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
		require.Equal(t, []int{1, 2}, retried)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(context.Background(), fastConfig(), func() error {
			attempts++
			return statusErr(http.StatusForbidden)
		})
		require.Error(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("wraps the last error when attempts run out", func(t *testing.T) {
		t.Parallel()
		err := Do(context.Background(), fastConfig(), func() error {
			return errors.New("connection reset by peer")
		})
		require.ErrorContains(t, err, "failed after 3 attempts")
		require.ErrorContains(t, err, "connection reset by peer")
	})

	t.Run("custom retryable predicate wins", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		cfg := fastConfig()
		cfg.Retryable = func(error) bool { return false }
		err := Do(context.Background(), cfg, func() error {
			attempts++
			return statusErr(http.StatusBadGateway)
		})
		require.Error(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("honours context cancellation between attempts", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: time.Second}
		attempts := 0
		err := Do(ctx, cfg, func() error {
			attempts++
			cancel()
			return errors.New("timeout")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, attempts)
	})
}

func TestWapor_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(context.Canceled))
	require.False(t, IsRetryable(context.DeadlineExceeded))
	require.True(t, IsRetryable(statusErr(http.StatusTooManyRequests)))
	require.True(t, IsRetryable(statusErr(http.StatusGatewayTimeout)))
	require.False(t, IsRetryable(statusErr(http.StatusNotFound)))
	require.True(t, IsRetryable(errors.New("read: connection reset by peer")))
	require.False(t, IsRetryable(errors.New("invalid collection id")))
}

func TestWapor_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		b := calculateBackoff(100*time.Millisecond, time.Second, 2)
		require.GreaterOrEqual(t, b, 200*time.Millisecond)
		require.Less(t, b, 400*time.Millisecond)
	}
	capped := calculateBackoff(100*time.Millisecond, 300*time.Millisecond, 10)
	require.Less(t, capped, 300*time.Millisecond)
}
