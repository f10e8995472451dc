package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

// Disposition is the handler's verdict on a delivery.
type Disposition int

const (
	Ack Disposition = iota
	NackRequeue
	NackDrop
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case NackRequeue:
		return "nack_requeue"
	case NackDrop:
		return "nack_drop"
	default:
		return "unknown"
	}
}

// DispositionFor maps a handler error onto a disposition. Errors that would fail again on the same
// input are dropped; everything else goes back on the queue.
func DispositionFor(err error) Disposition {
	if err == nil {
		return Ack
	}
	if errors.IsDecode(err) || errors.IsValidation(err) {
		return NackDrop
	}
	var fatal errors.FatalError
	if errors.As(err, &fatal) && fatal.IsFatal() {
		return NackDrop
	}
	return NackRequeue
}

type Delivery struct {
	Envelope      models.Envelope
	Queue         string
	ReplyTo       string
	CorrelationID string
	Redelivered   bool
	Headers       amqp.Table
}

type HandlerFunc func(ctx context.Context, d Delivery) Disposition

type publishOptions struct {
	replyTo       string
	correlationID string
}

type PublishOption func(*publishOptions)

func WithReplyTo(queue string) PublishOption {
	return func(o *publishOptions) {
		o.replyTo = queue
	}
}

func WithCorrelationID(id string) PublishOption {
	return func(o *publishOptions) {
		o.correlationID = id
	}
}

func applyPublishOptions(opts []PublishOption) publishOptions {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Transport owns one logical broker connection. Publish never reconnects; Consume blocks until ctx
// is cancelled or the connection is lost.
type Transport interface {
	Connect(ctx context.Context) error
	DeclareTopology(ctx context.Context, topology Topology) error
	DeclareReplyQueue(ctx context.Context) (string, error)
	Publish(ctx context.Context, exchange, routingKey string, env models.Envelope, opts ...PublishOption) error
	Consume(ctx context.Context, queue string, handler HandlerFunc) error
	Healthy() bool
	Close() error
}
