//go:build integration

package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"carepipe/internal/config"
	"carepipe/internal/logger"
	"carepipe/pkg/models"
)

func setupRabbitMQ(t *testing.T) config.RabbitMQConfig {
	t.Helper()

	ctx := context.Background()
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get rabbitmq host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5672/tcp")
	if err != nil {
		t.Fatalf("failed to get rabbitmq port: %v", err)
	}

	return config.RabbitMQConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "guest",
		Password: "guest",
		VHost:    "/",
		Prefetch: 1,
	}
}

func TestRabbitMQIntegration(t *testing.T) {
	cfg := setupRabbitMQ(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tr := NewRabbitMQTransport(cfg, logger.NopLogger())
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.DeclareTopology(ctx, DefaultTopology()))
	require.NoError(t, tr.DeclareTopology(ctx, DefaultTopology()))

	p := NewPublishers(tr)
	_, err := p.PublishClinicalMessage(ctx, models.ClinicalMessage{MessageID: "first", MemberID: "M1", Content: "pap smear"})
	require.NoError(t, err)
	_, err = p.PublishClinicalMessage(ctx, models.ClinicalMessage{MessageID: "second", MemberID: "M2", Content: "colonoscopy"})
	require.NoError(t, err)

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	got := make(chan string, 2)
	go func() {
		_ = NewConsumers(tr, logger.NopLogger()).ClinicalMessages(consumeCtx,
			func(ctx context.Context, msg models.ClinicalMessage, d Delivery) error {
				got <- msg.MessageID
				return nil
			})
	}()

	var order []string
	for len(order) < 2 {
		select {
		case id := <-got:
			order = append(order, id)
		case <-ctx.Done():
			t.Fatal("timed out waiting for deliveries")
		}
	}
	assert.Equal(t, []string{"first", "second"}, order)
}
