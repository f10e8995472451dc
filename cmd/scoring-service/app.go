package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"carepipe/internal/broker"
	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/internal/scoring"
	"carepipe/internal/stage"
	"carepipe/pkg/bootstrap"
	"carepipe/pkg/health"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
)

type App struct {
	*bootstrap.Base
	stage  stage.Stage[models.EvidenceRecord, models.RiskRecord]
	router *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceScoring)
	}
	return &App{Base: bootstrap.NewBase(cfg, log)}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServiceScoring); err != nil {
		return err
	}

	metrics.RegisterStageMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterHTTPMetrics()

	eligibility, err := scoring.EligibilityFromConfig(a.Config.Scoring)
	if err != nil {
		return fmt.Errorf("failed to compile eligibility rules: %w", err)
	}

	if err := a.InitBroker(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Broker unavailable, serving direct calls only until it returns",
			"error", err,
		)
	}
	if a.Transport == nil {
		return fmt.Errorf("no broker transport configured")
	}

	svc := scoring.NewService(eligibility, scoring.SyntheticFeatures{}, scoring.NewLogisticScorer(), a.Logger,
		scoring.WithModelVersion(a.Config.Scoring.ModelVersion),
	)
	a.stage = stage.Scoring(svc, broker.NewPublishers(a.Transport))

	registry := health.NewCheckerRegistry(constants.ServiceScoring)
	registry.RegisterOptional(health.NewBrokerChecker(a.Transport))

	a.router = stage.NewRouter(constants.ServiceScoring, a.Config, a.Logger, registry)
	stage.Handle(a.router, a.stage)

	a.Logger.InfowCtx(ctx, "Scoring model loaded",
		"model_version", a.Config.Scoring.ModelVersion,
		"eligibility_rules", len(a.Config.Scoring.Eligibility),
	)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	sup := stage.NewSupervisor(a.Logger)
	sup.Add("http", func(ctx context.Context) error {
		return stage.Serve(ctx, a.Config.Server.Port, a.router, a.Logger)
	})
	sup.Add(constants.ClinicalProcessedQueue, a.KeepConsuming(constants.ClinicalProcessedQueue,
		stage.ScoringWorker(a.stage, a.Transport, a.Logger)))
	return sup.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, nil)
}
