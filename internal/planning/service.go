package planning

import (
	"context"
	"time"

	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/errors"
	"carepipe/pkg/logging"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
	"carepipe/pkg/tracing"
)

type Service interface {
	// Orchestrate assembles the care plan for a risk record. An empty risk set gives an empty plan.
	Orchestrate(ctx context.Context, rec models.RiskRecord) (models.CarePlanRecord, error)
}

type Option func(*serviceImpl)

func WithClock(now func() time.Time) Option {
	return func(s *serviceImpl) {
		s.now = now
	}
}

type serviceImpl struct {
	now    func() time.Time
	logger logger.Logger
}

func NewService(log logger.Logger, opts ...Option) Service {
	s := &serviceImpl{now: time.Now, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *serviceImpl) Orchestrate(ctx context.Context, rec models.RiskRecord) (models.CarePlanRecord, error) {
	start := time.Now()
	if verr := models.ValidateRiskRecord(&rec); verr != nil {
		metrics.ObserveStage(constants.StagePlanning, start, verr)
		return models.CarePlanRecord{}, errors.ErrValidation.WithMessage("%s", verr.Error())
	}

	ctx = logging.WithStage(logging.WithMemberID(logging.WithMessageID(ctx, rec.MessageID), rec.MemberID), constants.StagePlanning)
	ctx, span := tracing.StartStageSpan(ctx, constants.StagePlanning)
	defer span.End()

	now := s.now().UTC()
	plan, err := s.build(rec, now)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Care plan assembly failed, returning empty plan", "error", err)
		metrics.ObserveStage(constants.StagePlanning, start, err)
		return emptyPlan(rec, now, err), nil
	}

	for _, gap := range plan.CareGaps {
		metrics.CareGapsCreatedTotal.WithLabelValues(gap.MeasureCode, string(gap.Priority)).Inc()
	}

	s.logger.InfowCtx(ctx, "Care plan assembled",
		"care_gaps", plan.TotalCareGaps,
		"priority", plan.Priority,
		"high_risk", plan.HighRiskMeasures,
	)
	metrics.ObserveStage(constants.StagePlanning, start, nil)
	return plan, nil
}

func (s *serviceImpl) build(rec models.RiskRecord, now time.Time) (plan models.CarePlanRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverStagePanic(constants.StagePlanning, r)
		}
	}()

	gaps := make([]models.CareGap, 0, len(rec.RiskPredictions))
	priorities := make([]models.Priority, 0, len(rec.RiskPredictions))
	highRisk := []string{}

	for _, measure := range rec.MeasureCodes() {
		gap := buildGap(rec, measure, rec.RiskPredictions[measure], now)
		gaps = append(gaps, gap)
		priorities = append(priorities, gap.Priority)
		if gap.RiskLevel == models.RiskHigh {
			highRisk = append(highRisk, measure)
		}
	}

	return models.CarePlanRecord{
		MessageID:           rec.MessageID,
		MemberID:            rec.MemberID,
		MemberAge:           rec.MemberAge,
		ProcessingTimestamp: now,
		CareGaps:            gaps,
		Priority:            models.MaxPriority(priorities...),
		FHIRResources:       buildResources(rec, gaps),
		HighRiskMeasures:    highRisk,
		TotalCareGaps:       len(gaps),
	}, nil
}

func emptyPlan(rec models.RiskRecord, now time.Time, err error) models.CarePlanRecord {
	return models.CarePlanRecord{
		MessageID:           rec.MessageID,
		MemberID:            rec.MemberID,
		MemberAge:           rec.MemberAge,
		ProcessingTimestamp: now,
		CareGaps:            []models.CareGap{},
		Priority:            models.PriorityLow,
		FHIRResources:       []models.FHIRResource{},
		HighRiskMeasures:    []string{},
		Error:               err.Error(),
	}
}
