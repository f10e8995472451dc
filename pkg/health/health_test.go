package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type flag bool

func (f flag) Healthy() bool { return bool(f) }

func TestRegistryStatus(t *testing.T) {
	tests := []struct {
		name     string
		broker   bool
		critical error
		want     Status
	}{
		{name: "all up", broker: true, want: StatusHealthy},
		{name: "broker down", broker: false, want: StatusDegraded},
		{name: "critical down", broker: true, critical: errors.New("model not loaded"), want: StatusUnhealthy},
		{name: "both down", broker: false, critical: errors.New("model not loaded"), want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry("scoring-service")
			r.RegisterOptional(NewBrokerChecker(flag(tt.broker)))
			r.Register(NewFuncChecker("model", func(ctx context.Context) error { return tt.critical }))

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Equal(t, "scoring-service", h.Service)
			assert.Len(t, h.Checks, 2)
			assert.False(t, h.Timestamp.IsZero())
		})
	}
}
