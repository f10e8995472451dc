package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: scoring-service
server:
  port: 8002
services:
  scoring:
    base_url: http://scoring:8002
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "scoring-service", cfg.Service.Name)
	assert.Equal(t, 8002, cfg.Server.Port)
	assert.Equal(t, "rabbitmq", cfg.Broker.Type)
	assert.Equal(t, 1, cfg.Broker.RabbitMQ.Prefetch)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Broker.RabbitMQ.ReplyTimeout)
	assert.Equal(t, "scoring-service", cfg.Tracing.ServiceName)
	assert.Equal(t, DefaultEligibility(), cfg.Scoring.Eligibility)
}

func TestLoadConfigEligibilityRules(t *testing.T) {
	path := writeConfig(t, `
broker:
  type: memory
scoring:
  eligibility:
    - measure: ccs
      expression: "age >= 21 && age <= 64"
    - measure: col
      expression: "age >= 45 && age <= 75"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Scoring.Eligibility, 2)
	assert.Equal(t, "CCS", cfg.Scoring.Eligibility[0].Measure)
	assert.Equal(t, "COL", cfg.Scoring.Eligibility[1].Measure)
}

func TestValidateStaticRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown broker", body: "broker:\n  type: nats\n"},
		{name: "prefetch", body: "broker:\n  rabbitmq:\n    prefetch: 10\n"},
		{name: "bad url", body: "services:\n  planning:\n    base_url: planning:8003\n"},
		{name: "rate limit", body: "rate_limit:\n  enabled: true\n  rps: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
