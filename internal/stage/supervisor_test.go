package stage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/internal/logger"
)

func TestSupervisorStopsAllWorkersOnFailure(t *testing.T) {
	s := NewSupervisor(logger.NopLogger())

	stopped := make(chan struct{})
	s.Add("clinical.messages", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	s.Add("risk.scores", func(ctx context.Context) error {
		return fmt.Errorf("delivery stream closed")
	})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery stream closed")

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling worker was not cancelled")
	}

	var events []Event
	for e := range s.Events() {
		events = append(events, e)
	}
	require.Len(t, events, 2)
}

func TestSupervisorCleanShutdown(t *testing.T) {
	s := NewSupervisor(logger.NopLogger())
	s.Add("care.gaps", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}

	e, ok := <-s.Events()
	require.True(t, ok)
	assert.Equal(t, "care.gaps", e.Worker)
	assert.NoError(t, e.Err)
}
