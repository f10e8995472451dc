package bootstrap

import (
	"context"
	"fmt"
	"time"

	"carepipe/internal/broker"
	"carepipe/internal/config"
	"carepipe/internal/logger"
	"carepipe/pkg/retry"
	"carepipe/pkg/tracing"
)

// Base carries what every carepipe binary sets up: config, logger, the broker transport and
// optionally the tracer provider.
type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Transport broker.Transport

	tracerProvider *tracing.TracerProvider
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func connectPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		p.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		p.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return p
}

// InitBroker connects the configured transport, retrying with backoff, and declares the pipeline
// topology. A broker that stays down is not fatal for services with a direct-call route; callers
// decide by inspecting the returned error.
func (b *Base) InitBroker(ctx context.Context) error {
	transport, err := broker.NewTransport(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	b.Transport = transport

	policy := connectPolicy(b.Config.Broker.RabbitMQ.ConnectRetry)
	err = retry.RetryWithCallback(ctx, policy, func() error {
		return transport.Connect(ctx)
	}, func(attempt int, err error, next time.Duration) {
		b.Logger.WarnwCtx(ctx, "Broker connection failed, retrying",
			"attempt", attempt,
			"next_retry", next,
			"error", err,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	if err := transport.DeclareTopology(ctx, broker.DefaultTopology()); err != nil {
		return fmt.Errorf("failed to declare topology: %w", err)
	}
	return nil
}

func (b *Base) InitTracing(serviceName string) error {
	tp, err := tracing.Init(b.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.tracerProvider = tp
	return nil
}

func (b *Base) ShutdownBroker() []error {
	if b.Transport == nil {
		return nil
	}
	if err := b.Transport.Close(); err != nil {
		return []error{fmt.Errorf("broker close error: %w", err)}
	}
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if b.tracerProvider != nil {
		if err := b.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}

// KeepConsuming restarts run whenever it stops while ctx is still live, reconnecting the transport
// with backoff in between. The HTTP side of a service keeps serving direct calls meanwhile.
func (b *Base) KeepConsuming(name string, run func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		policy := connectPolicy(b.Config.Broker.RabbitMQ.ConnectRetry)
		for {
			err := run(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.Logger.WarnwCtx(ctx, "Consumer stopped, reconnecting", "worker", name, "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.InitialInterval):
			}

			err = retry.Retry(ctx, policy, func() error {
				if err := b.Transport.Connect(ctx); err != nil {
					return err
				}
				return b.Transport.DeclareTopology(ctx, broker.DefaultTopology())
			})
			if err != nil && ctx.Err() == nil {
				b.Logger.ErrorwCtx(ctx, "Broker still unavailable", "worker", name, "error", err)
			}
		}
	}
}
