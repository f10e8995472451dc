package broker

import (
	"context"
	"time"

	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/codec"
	"carepipe/pkg/models"
)

// Publishers wraps each stage record in a fresh envelope and publishes it on the record's fixed
// exchange and routing key.
type Publishers struct {
	transport Transport
	now       func() time.Time
}

func NewPublishers(transport Transport) *Publishers {
	return &Publishers{transport: transport, now: time.Now}
}

// WithClock fixes envelope timestamps.
func (p *Publishers) WithClock(now func() time.Time) *Publishers {
	p.now = now
	return p
}

func (p *Publishers) publish(ctx context.Context, exchange, routingKey string, record any) (models.Envelope, error) {
	env, err := codec.WrapAt(record, p.now)
	if err != nil {
		return models.Envelope{}, err
	}
	if err := p.transport.Publish(ctx, exchange, routingKey, env); err != nil {
		return models.Envelope{}, err
	}
	return env, nil
}

func (p *Publishers) PublishClinicalMessage(ctx context.Context, msg models.ClinicalMessage) (models.Envelope, error) {
	return p.publish(ctx, constants.ClinicalExchange, constants.ClinicalMessageKey, msg)
}

func (p *Publishers) PublishEvidence(ctx context.Context, rec models.EvidenceRecord) (models.Envelope, error) {
	return p.publish(ctx, constants.EvidenceExchange, constants.ClinicalProcessedKey, rec)
}

func (p *Publishers) PublishRiskScores(ctx context.Context, rec models.RiskRecord) (models.Envelope, error) {
	return p.publish(ctx, constants.ScoringExchange, constants.RiskCalculatedKey, rec)
}

func (p *Publishers) PublishCareGaps(ctx context.Context, plan models.CarePlanRecord) (models.Envelope, error) {
	return p.publish(ctx, constants.DashboardExchange, constants.CareGapCreatedKey, plan)
}

func (p *Publishers) PublishCareAlert(ctx context.Context, alert models.CareAlert) (models.Envelope, error) {
	return p.publish(ctx, constants.DashboardExchange, constants.CareAlertHighKey, alert)
}

// RecordHandler receives a decoded stage record together with its delivery.
type RecordHandler[T any] func(ctx context.Context, record T, d Delivery) error

// Consumers binds each stage queue to a typed handler.
type Consumers struct {
	transport Transport
	logger    logger.Logger
}

func NewConsumers(transport Transport, log logger.Logger) *Consumers {
	return &Consumers{transport: transport, logger: log}
}

func (c *Consumers) ClinicalMessages(ctx context.Context, handle RecordHandler[models.ClinicalMessage]) error {
	return consumeRecords(ctx, c, constants.ClinicalMessagesQueue, handle)
}

func (c *Consumers) Evidence(ctx context.Context, handle RecordHandler[models.EvidenceRecord]) error {
	return consumeRecords(ctx, c, constants.ClinicalProcessedQueue, handle)
}

func (c *Consumers) RiskScores(ctx context.Context, handle RecordHandler[models.RiskRecord]) error {
	return consumeRecords(ctx, c, constants.RiskScoresQueue, handle)
}

func (c *Consumers) CareGaps(ctx context.Context, handle RecordHandler[models.CarePlanRecord]) error {
	return consumeRecords(ctx, c, constants.CareGapsQueue, handle)
}

func (c *Consumers) CareAlerts(ctx context.Context, handle RecordHandler[models.CareAlert]) error {
	return consumeRecords(ctx, c, constants.CareAlertsQueue, handle)
}

func consumeRecords[T any](ctx context.Context, c *Consumers, queue string, handle RecordHandler[T]) error {
	return c.transport.Consume(ctx, queue, func(ctx context.Context, d Delivery) Disposition {
		record, err := codec.Unwrap[T](d.Envelope)
		if err != nil {
			c.logger.ErrorwCtx(ctx, "Dropping delivery with undecodable payload",
				"error", err,
				"queue", queue,
			)
			return NackDrop
		}

		if err := handle(ctx, record, d); err != nil {
			disposition := DispositionFor(err)
			c.logger.ErrorwCtx(ctx, "Record handler failed",
				"error", err,
				"queue", queue,
				"disposition", disposition.String(),
			)
			return disposition
		}
		return Ack
	})
}
