package dashboard

import (
	"context"

	"carepipe/internal/broker"
	"carepipe/internal/logger"
	"carepipe/internal/store"
	"carepipe/pkg/models"
)

// Reader drains care.gaps and care.alerts into the care-plan store.
type Reader struct {
	consumers *broker.Consumers
	store     store.CarePlanStore
	logger    logger.Logger
}

func NewReader(transport broker.Transport, s store.CarePlanStore, log logger.Logger) *Reader {
	return &Reader{
		consumers: broker.NewConsumers(transport, log),
		store:     s,
		logger:    log,
	}
}

func (r *Reader) CareGaps(ctx context.Context) error {
	return r.consumers.CareGaps(ctx, func(ctx context.Context, plan models.CarePlanRecord, d broker.Delivery) error {
		if err := r.store.SavePlan(ctx, plan); err != nil {
			return err
		}
		r.logger.DebugwCtx(ctx, "Stored care plan",
			"member_id", plan.MemberID,
			"message_id", plan.MessageID,
			"care_gaps", plan.TotalCareGaps,
		)
		return nil
	})
}

func (r *Reader) CareAlerts(ctx context.Context) error {
	return r.consumers.CareAlerts(ctx, func(ctx context.Context, alert models.CareAlert, d broker.Delivery) error {
		if err := r.store.SaveAlert(ctx, alert); err != nil {
			return err
		}
		r.logger.InfowCtx(ctx, "High-risk care alert received",
			"alert_id", alert.AlertID,
			"member_id", alert.MemberID,
			"measures", alert.HighRiskMeasures,
		)
		return nil
	})
}
