package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/internal/config"
)

func TestWrapperOpensAfterFailures(t *testing.T) {
	w := NewWrapper(FromConfig("broker-test", config.CircuitBreakerConfig{
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
	}))

	boom := errors.New("channel closed")
	for i := 0; i < 2; i++ {
		_, err := w.ExecuteWithContext(context.Background(), func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.True(t, w.IsOpen())

	called := false
	_, err := w.ExecuteWithContext(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestWrapperHonoursCancelledContext(t *testing.T) {
	w := NewWrapper(DefaultConfig("ctx-test"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.ExecuteWithContext(ctx, func() (interface{}, error) {
		t.Fatal("fn must not run")
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, w.State())
}
