package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker() *CircuitBreaker {
	return New("test", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
		MaxRequests:      1,
		Logger:           zap.NewNop(),
	})
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker()
	ctx := context.Background()
	boom := errors.New("backend down")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := newTestBreaker()
	ctx := context.Background()
	boom := errors.New("backend down")

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return boom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker()
	ctx := context.Background()
	boom := errors.New("backend down")

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return boom })
	}

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.Execute(ctx, func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerIgnoresContextCancellation(t *testing.T) {
	cb := newTestBreaker()
	ctx := context.Background()

	// Cancellations are caller-driven and must not count toward opening.
	for i := 0; i < 10; i++ {
		cb.Execute(ctx, func() error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
}
