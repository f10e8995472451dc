package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"carepipe/internal/broker"
	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/extraction"
	"carepipe/internal/logger"
	"carepipe/internal/stage"
	"carepipe/pkg/bootstrap"
	"carepipe/pkg/health"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
)

type App struct {
	*bootstrap.Base
	stage  stage.Stage[models.ClinicalMessage, models.EvidenceRecord]
	router *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceExtraction)
	}
	return &App{Base: bootstrap.NewBase(cfg, log)}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServiceExtraction); err != nil {
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

	svc := extraction.NewService(extraction.NewMatcher(a.Config.Extraction.Keywords), a.Logger)
	a.stage = stage.Extraction(svc, broker.NewPublishers(a.Transport))

	registry := health.NewCheckerRegistry(constants.ServiceExtraction)
	registry.RegisterOptional(health.NewBrokerChecker(a.Transport))

	a.router = stage.NewRouter(constants.ServiceExtraction, a.Config, a.Logger, registry)
	stage.Handle(a.router, a.stage)

	return nil
}

func (a *App) Run(ctx context.Context) error {
	sup := stage.NewSupervisor(a.Logger)
	sup.Add("http", func(ctx context.Context) error {
		return stage.Serve(ctx, a.Config.Server.Port, a.router, a.Logger)
	})
	sup.Add(constants.ClinicalMessagesQueue, a.KeepConsuming(constants.ClinicalMessagesQueue,
		stage.ExtractionWorker(a.stage, a.Transport, a.Logger)))
	return sup.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, nil)
}
