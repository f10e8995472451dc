package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"carepipe/internal/logger"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/logging"
	"carepipe/pkg/metrics"
	"carepipe/pkg/tracing"
)

// inbound is a delivery as it comes off the wire, before the envelope is decoded.
type inbound struct {
	Body          []byte
	MessageID     string
	ReplyTo       string
	CorrelationID string
	Redelivered   bool
	Headers       amqp.Table
}

type dispatcher struct {
	queue   string
	handler HandlerFunc
	logger  logger.Logger
}

func newDispatcher(queue string, handler HandlerFunc, log logger.Logger) *dispatcher {
	return &dispatcher{queue: queue, handler: handler, logger: log}
}

// dispatch decodes one delivery and runs the handler. Undecodable bodies and handler panics are
// dropped so a poison message cannot loop.
func (d *dispatcher) dispatch(ctx context.Context, in inbound) (disposition Disposition) {
	msgCtx := ctx
	if in.MessageID != "" {
		msgCtx = logging.WithMessageID(msgCtx, in.MessageID)
	}

	env, err := codec.DecodeEnvelope(in.Body)
	if err != nil {
		d.logger.ErrorwCtx(msgCtx, "Dropping undecodable delivery",
			"error", err,
			"queue", d.queue,
			"redelivered", in.Redelivered,
			"size", len(in.Body),
		)
		metrics.ObserveDelivery(d.queue, NackDrop.String(), len(in.Body))
		return NackDrop
	}

	if env.ID != "" {
		msgCtx = logging.WithMessageID(ctx, env.ID)
	}

	msgCtx, span := tracing.StartConsumeSpan(msgCtx, d.queue, env.ID, in.Headers)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			d.logger.ErrorwCtx(msgCtx, "Panic recovered in delivery handler",
				"error", err,
				"queue", d.queue,
			)
			disposition = NackDrop
		}
		metrics.ObserveDelivery(d.queue, disposition.String(), len(in.Body))
	}()

	disposition = d.handler(msgCtx, Delivery{
		Envelope:      env,
		Queue:         d.queue,
		ReplyTo:       in.ReplyTo,
		CorrelationID: in.CorrelationID,
		Redelivered:   in.Redelivered,
		Headers:       in.Headers,
	})

	if disposition != Ack {
		d.logger.WarnwCtx(msgCtx, "Delivery not acknowledged",
			"queue", d.queue,
			"disposition", disposition.String(),
			"redelivered", in.Redelivered,
		)
	}

	return disposition
}
