package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	cfg := fastRetry()
	cfg.ShouldRetry = func(err error) bool { return !IsPermanent(err) }

	calls := 0
	boom := errors.New("bad request")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return Permanent(boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_Opens(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("test")
	cfg.MinRequests = 2
	cb := NewCircuitBreaker(cfg)

	fail := func(context.Context) error { return errors.New("down") }
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "test", cb.Name())
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	assert.True(t, IsRetryableHTTPStatus(503))
	assert.True(t, IsRetryableHTTPStatus(429))
	assert.False(t, IsRetryableHTTPStatus(400))
}
