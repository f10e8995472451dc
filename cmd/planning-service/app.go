package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"carepipe/internal/broker"
	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/internal/planning"
	"carepipe/internal/stage"
	"carepipe/pkg/bootstrap"
	"carepipe/pkg/health"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
)

type App struct {
	*bootstrap.Base
	stage  stage.Stage[models.RiskRecord, models.CarePlanRecord]
	router *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServicePlanning)
	}
	return &App{Base: bootstrap.NewBase(cfg, log)}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServicePlanning); err != nil {
		return err
	}

	metrics.RegisterStageMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterHTTPMetrics()

	if err := a.InitBroker(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Broker unavailable, serving direct calls only until it returns",
			"error", err,
		)
	}
	if a.Transport == nil {
		return fmt.Errorf("no broker transport configured")
	}

	// Chained deliveries publish gaps and alerts straight to the dashboard exchange.
	a.stage = stage.Planning(planning.NewService(a.Logger), broker.NewPublishers(a.Transport))

	registry := health.NewCheckerRegistry(constants.ServicePlanning)
	registry.RegisterOptional(health.NewBrokerChecker(a.Transport))

	a.router = stage.NewRouter(constants.ServicePlanning, a.Config, a.Logger, registry)
	stage.Handle(a.router, a.stage)

	return nil
}

func (a *App) Run(ctx context.Context) error {
	sup := stage.NewSupervisor(a.Logger)
	sup.Add("http", func(ctx context.Context) error {
		return stage.Serve(ctx, a.Config.Server.Port, a.router, a.Logger)
	})
	sup.Add(constants.RiskScoresQueue, a.KeepConsuming(constants.RiskScoresQueue,
		stage.PlanningWorker(a.stage, a.Transport, a.Logger)))
	return sup.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, nil)
}
