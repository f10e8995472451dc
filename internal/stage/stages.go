package stage

import (
	"context"

	"carepipe/internal/broker"
	"carepipe/internal/constants"
	"carepipe/internal/extraction"
	"carepipe/internal/logger"
	"carepipe/internal/planning"
	"carepipe/internal/scoring"
	"carepipe/pkg/models"
)

// Extraction is stage 1. With pub set, chained deliveries are forwarded to evidence.exchange.
func Extraction(svc extraction.Service, pub *broker.Publishers) Stage[models.ClinicalMessage, models.EvidenceRecord] {
	s := Stage[models.ClinicalMessage, models.EvidenceRecord]{
		Name:      constants.StageExtraction,
		Operation: constants.OperationProcess,
		Process:   svc.Process,
	}
	if pub != nil {
		s.Forward = func(ctx context.Context, rec models.EvidenceRecord) error {
			_, err := pub.PublishEvidence(ctx, rec)
			return err
		}
	}
	return s
}

func Scoring(svc scoring.Service, pub *broker.Publishers) Stage[models.EvidenceRecord, models.RiskRecord] {
	s := Stage[models.EvidenceRecord, models.RiskRecord]{
		Name:      constants.StageScoring,
		Operation: constants.OperationPredict,
		Process:   svc.Predict,
	}
	if pub != nil {
		s.Forward = func(ctx context.Context, rec models.RiskRecord) error {
			_, err := pub.PublishRiskScores(ctx, rec)
			return err
		}
	}
	return s
}

// Planning is stage 3. Chained deliveries publish the plan to care.gap.created and, when any
// measure is high risk, an alert to care.alert.high.
func Planning(svc planning.Service, pub *broker.Publishers) Stage[models.RiskRecord, models.CarePlanRecord] {
	s := Stage[models.RiskRecord, models.CarePlanRecord]{
		Name:      constants.StagePlanning,
		Operation: constants.OperationOrchestrate,
		Process:   svc.Orchestrate,
	}
	if pub != nil {
		s.Forward = func(ctx context.Context, plan models.CarePlanRecord) error {
			if _, err := pub.PublishCareGaps(ctx, plan); err != nil {
				return err
			}
			if alert, ok := planning.BuildAlert(plan); ok {
				if _, err := pub.PublishCareAlert(ctx, alert); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return s
}

func ExtractionWorker(s Stage[models.ClinicalMessage, models.EvidenceRecord], transport broker.Transport, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return broker.NewConsumers(transport, log).ClinicalMessages(ctx, DeliveryHandler(s, transport, log))
	}
}

func ScoringWorker(s Stage[models.EvidenceRecord, models.RiskRecord], transport broker.Transport, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return broker.NewConsumers(transport, log).Evidence(ctx, DeliveryHandler(s, transport, log))
	}
}

func PlanningWorker(s Stage[models.RiskRecord, models.CarePlanRecord], transport broker.Transport, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return broker.NewConsumers(transport, log).RiskScores(ctx, DeliveryHandler(s, transport, log))
	}
}
