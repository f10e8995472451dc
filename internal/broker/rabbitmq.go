package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
	"carepipe/pkg/tracing"
)

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens an AMQP connection. Tests replace it with an in-process fake.
type Dialer func(url string) (amqpConnection, error)

type connectionAdapter struct {
	*amqp.Connection
}

func (c connectionAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return connectionAdapter{Connection: conn}, nil
}

type RabbitMQOption func(*RabbitMQTransport)

func WithDialer(dial Dialer) RabbitMQOption {
	return func(t *RabbitMQTransport) {
		t.dial = dial
	}
}

// RabbitMQTransport holds a single connection and a single channel. Publishes and declarations
// share the channel and are serialized by publishMu.
type RabbitMQTransport struct {
	cfg    config.RabbitMQConfig
	logger logger.Logger
	dial   Dialer

	mu     sync.RWMutex
	conn   amqpConnection
	ch     amqpChannel
	closed bool

	publishMu   sync.Mutex
	healthy     atomic.Bool
	generation  atomic.Uint64
	consumerSeq atomic.Int64
}

func NewRabbitMQTransport(cfg config.RabbitMQConfig, log logger.Logger, opts ...RabbitMQOption) *RabbitMQTransport {
	t := &RabbitMQTransport{
		cfg:    cfg,
		logger: log,
		dial:   dialAMQP,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func AMQPURL(cfg config.RabbitMQConfig) string {
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    vhost,
	}.String()
}

// Connect is a no-op while the connection is up. A lost connection is replaced.
func (t *RabbitMQTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.ErrConnection.WithCause(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.ErrConnection.WithMessage("transport is closed")
	}
	if t.conn != nil && t.healthy.Load() {
		return nil
	}
	_ = t.releaseLocked()

	conn, err := t.dial(AMQPURL(t.cfg))
	if err != nil {
		return errors.ErrConnection.
			WithMessage("failed to connect to rabbitmq at %s:%d", t.cfg.Host, t.cfg.Port).
			WithCause(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.ErrConnection.WithMessage("failed to open channel").WithCause(err)
	}

	prefetch := t.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = constants.DefaultPrefetch
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.ErrConnection.WithMessage("failed to set prefetch").WithCause(err)
	}

	t.conn = conn
	t.ch = ch
	t.healthy.Store(true)
	metrics.BrokerConnected.Set(1)

	gen := t.generation.Add(1)
	go t.watch(gen, conn.NotifyClose(make(chan *amqp.Error, 1)), "connection")
	go t.watch(gen, ch.NotifyClose(make(chan *amqp.Error, 1)), "channel")

	t.logger.Infow("Connected to RabbitMQ",
		"host", t.cfg.Host,
		"port", t.cfg.Port,
		"vhost", t.cfg.VHost,
		"prefetch", prefetch,
	)

	return nil
}

// watch marks the transport down when the connection or channel of generation gen closes.
func (t *RabbitMQTransport) watch(gen uint64, notify chan *amqp.Error, what string) {
	amqpErr, ok := <-notify
	if t.generation.Load() != gen {
		return
	}
	t.markDown()
	if ok && amqpErr != nil {
		t.logger.Errorw("RabbitMQ "+what+" closed",
			"code", amqpErr.Code,
			"reason", amqpErr.Reason,
		)
	}
}

func (t *RabbitMQTransport) markDown() {
	if t.healthy.Swap(false) {
		metrics.BrokerConnected.Set(0)
	}
}

func (t *RabbitMQTransport) Healthy() bool {
	return t.healthy.Load()
}

func (t *RabbitMQTransport) channel() (amqpChannel, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.ch == nil || !t.healthy.Load() {
		return nil, errors.ErrConnection.WithMessage("not connected to rabbitmq")
	}
	return t.ch, nil
}

// DeclareTopology redeclares with identical arguments, which the broker treats as a no-op.
func (t *RabbitMQTransport) DeclareTopology(ctx context.Context, topology Topology) error {
	if err := topology.Validate(); err != nil {
		return errors.ErrValidation.WithMessage("invalid topology: %v", err)
	}

	ch, err := t.channel()
	if err != nil {
		return err
	}

	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	for _, ex := range topology.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Kind, true, false, false, false, nil); err != nil {
			return errors.ErrConnection.WithMessage("failed to declare exchange %s", ex.Name).WithCause(err)
		}
	}

	for _, q := range topology.Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return errors.ErrConnection.WithMessage("failed to declare queue %s", q).WithCause(err)
		}
	}

	for _, b := range topology.Bindings {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return errors.ErrConnection.
				WithMessage("failed to bind %s to %s with %s", b.Queue, b.Exchange, b.RoutingKey).
				WithCause(err)
		}
	}

	t.logger.Infow("Topology declared",
		"exchanges", len(topology.Exchanges),
		"queues", len(topology.Queues),
		"bindings", len(topology.Bindings),
	)

	return nil
}

// DeclareReplyQueue declares an exclusive, auto-deleted queue with a server-generated name.
func (t *RabbitMQTransport) DeclareReplyQueue(ctx context.Context) (string, error) {
	ch, err := t.channel()
	if err != nil {
		return "", err
	}

	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", errors.ErrConnection.WithMessage("failed to declare reply queue").WithCause(err)
	}
	return q.Name, nil
}

func (t *RabbitMQTransport) Publish(ctx context.Context, exchange, routingKey string, env models.Envelope, opts ...PublishOption) error {
	ch, err := t.channel()
	if err != nil {
		metrics.ObservePublish(exchange, routingKey, 0, err)
		return errors.ErrPublish.
			WithMessage("publish to %s/%s while disconnected", exchange, routingKey).
			WithCause(err)
	}

	body, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	o := applyPublishOptions(opts)
	msg := amqp.Publishing{
		Headers:       tracing.InjectTraceContext(ctx, nil),
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		Timestamp:     env.Timestamp,
		CorrelationId: o.correlationID,
		ReplyTo:       o.replyTo,
		Body:          body,
	}

	t.publishMu.Lock()
	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	t.publishMu.Unlock()

	metrics.ObservePublish(exchange, routingKey, len(body), err)
	if err != nil {
		return errors.ErrPublish.
			WithMessage("failed to publish to %s/%s", exchange, routingKey).
			WithDetail("message_id", env.ID).
			WithCause(err)
	}

	return nil
}

// Consume blocks until ctx is done or the delivery stream closes. Losing the stream is terminal.
func (t *RabbitMQTransport) Consume(ctx context.Context, queue string, handler HandlerFunc) error {
	ch, err := t.channel()
	if err != nil {
		return err
	}

	tag := fmt.Sprintf("%s-%d", queue, t.consumerSeq.Add(1))
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return errors.ErrConnection.WithMessage("failed to consume from %s", queue).WithCause(err)
	}

	t.logger.Infow("Started consuming", "queue", queue, "consumer", tag)

	d := newDispatcher(queue, handler, t.logger)
	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			t.logger.Infow("Stopped consuming", "queue", queue, "reason", "context canceled")
			return ctx.Err()

		case msg, ok := <-deliveries:
			if !ok {
				t.markDown()
				return errors.ErrConnection.WithMessage("delivery stream for %s closed", queue)
			}

			disposition := d.dispatch(ctx, inbound{
				Body:          msg.Body,
				MessageID:     msg.MessageId,
				ReplyTo:       msg.ReplyTo,
				CorrelationID: msg.CorrelationId,
				Redelivered:   msg.Redelivered,
				Headers:       msg.Headers,
			})

			if err := settle(msg, disposition); err != nil {
				t.markDown()
				return errors.ErrConnection.WithMessage("failed to settle delivery on %s", queue).WithCause(err)
			}
		}
	}
}

func settle(msg amqp.Delivery, disposition Disposition) error {
	switch disposition {
	case Ack:
		return msg.Ack(false)
	case NackRequeue:
		return msg.Nack(false, true)
	default:
		return msg.Nack(false, false)
	}
}

// Close is safe to call more than once.
func (t *RabbitMQTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.releaseLocked()
}

func (t *RabbitMQTransport) releaseLocked() error {
	t.generation.Add(1)
	t.markDown()

	var firstErr error
	if t.ch != nil {
		if err := t.ch.Close(); err != nil && err != amqp.ErrClosed {
			firstErr = err
		}
		t.ch = nil
	}
	if t.conn != nil {
		if err := t.conn.Close(); err != nil && err != amqp.ErrClosed && firstErr == nil {
			firstErr = err
		}
		t.conn = nil
	}
	return firstErr
}
