package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"carepipe/internal/broker"
	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/dashboard"
	"carepipe/internal/directcall"
	"carepipe/internal/logger"
	"carepipe/internal/pipeline"
	"carepipe/internal/stage"
	"carepipe/internal/store"
	"carepipe/pkg/bootstrap"
	"carepipe/pkg/circuitbreaker"
	"carepipe/pkg/health"
	"carepipe/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector  *bootstrap.DatabaseConnector
	redis        *redis.Client
	store        store.CarePlanStore
	publishers   *broker.Publishers
	orchestrator *pipeline.Orchestrator
	router       *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServicePipeline)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServicePipeline); err != nil {
		return err
	}

	metrics.RegisterPipelineMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterStoreMetrics()
	metrics.RegisterHTTPMetrics()
	metrics.RegisterStageMetrics()

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb
	a.store = a.dbConnector.Store(rdb)

	if err := a.InitBroker(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Broker unavailable, stages will be called directly until it returns",
			"error", err,
		)
	}
	if a.Transport == nil {
		return fmt.Errorf("no broker transport configured")
	}
	a.publishers = broker.NewPublishers(a.Transport)

	requester := broker.NewRequester(a.Transport, a.Config.Broker.RabbitMQ.ReplyTimeout, a.Logger)
	if err := requester.Start(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Reply queue not ready yet", "error", err)
	}

	client := directcall.NewClient(a.Config.Services, a.Config.Pipeline.CallTimeout)

	var selectorOpts []pipeline.SelectorOption
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
		cb := circuitbreaker.NewWrapper(pipeline.BreakerConfig(
			circuitbreaker.FromConfig("broker", a.Config.CircuitBreaker),
		))
		selectorOpts = append(selectorOpts, pipeline.WithBreaker(cb))
	}
	selector := pipeline.NewTransportSelector(a.Transport, requester, client, a.Config.Pipeline.CallTimeout, a.Logger, selectorOpts...)

	var orchestratorOpts []pipeline.Option
	if a.Config.Pipeline.PublishFallbackStore {
		orchestratorOpts = append(orchestratorOpts, pipeline.WithFallbackStore(a.store))
	}
	a.orchestrator = pipeline.NewOrchestrator(selector, a.publishers, a.Logger, orchestratorOpts...)

	registry := health.NewCheckerRegistry(constants.ServicePipeline)
	registry.RegisterOptional(health.NewBrokerChecker(a.Transport))
	if a.redis != nil {
		registry.Register(health.NewRedisChecker(a.redis))
	}

	a.router = stage.NewRouter(constants.ServicePipeline, a.Config, a.Logger, registry)
	pipeline.NewHandler(a.orchestrator, a.Logger).RegisterRoutes(a.router)
	dashboard.NewHandler(a.store, a.Logger).RegisterRoutes(a.router)

	return nil
}

func (a *App) Run(ctx context.Context) error {
	reader := dashboard.NewReader(a.Transport, a.store, a.Logger)

	sup := stage.NewSupervisor(a.Logger)
	sup.Add("http", func(ctx context.Context) error {
		return stage.Serve(ctx, a.Config.Server.Port, a.router, a.Logger)
	})
	sup.Add(constants.CareGapsQueue, a.KeepConsuming(constants.CareGapsQueue, reader.CareGaps))
	sup.Add(constants.CareAlertsQueue, a.KeepConsuming(constants.CareAlertsQueue, reader.CareAlerts))
	return sup.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.redis)
	})
}
