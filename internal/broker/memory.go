package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"carepipe/internal/logger"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
	"carepipe/pkg/tracing"
)

type memoryMessage struct {
	inbound
}

type memoryQueue struct {
	name     string
	messages []memoryMessage
	notify   chan struct{}
}

func newMemoryQueue(name string) *memoryQueue {
	return &memoryQueue{name: name, notify: make(chan struct{}, 1)}
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// MemoryTransport is an in-process broker with topic exchanges, durable-style queues and
// per-consumer prefetch of one. It backs local runs and tests.
type MemoryTransport struct {
	logger logger.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	lost      chan struct{}
	exchanges map[string]string
	queues    map[string]*memoryQueue
	bindings  []Binding
	replySeq  int
	fault     func(exchange, routingKey string) error
}

func NewMemoryTransport(log logger.Logger) *MemoryTransport {
	return &MemoryTransport{
		logger:    log,
		lost:      make(chan struct{}),
		exchanges: make(map[string]string),
		queues:    make(map[string]*memoryQueue),
	}
}

func (t *MemoryTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.ErrConnection.WithMessage("transport is closed")
	}
	if t.connected {
		return nil
	}
	t.connected = true
	t.lost = make(chan struct{})
	metrics.BrokerConnected.Set(1)
	return nil
}

// Disconnect simulates losing the broker: publishes fail and running consumers return.
func (t *MemoryTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectLocked()
}

func (t *MemoryTransport) disconnectLocked() {
	if !t.connected {
		return
	}
	t.connected = false
	close(t.lost)
	metrics.BrokerConnected.Set(0)
}

// SetPublishFault installs a hook consulted before every publish; a non-nil result fails it.
func (t *MemoryTransport) SetPublishFault(fault func(exchange, routingKey string) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fault = fault
}

func (t *MemoryTransport) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *MemoryTransport) DeclareTopology(ctx context.Context, topology Topology) error {
	if err := topology.Validate(); err != nil {
		return errors.ErrValidation.WithMessage("invalid topology: %v", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return errors.ErrConnection.WithMessage("not connected")
	}

	for _, ex := range topology.Exchanges {
		if kind, ok := t.exchanges[ex.Name]; ok && kind != ex.Kind {
			return errors.ErrValidation.WithMessage("exchange %s already declared as %s", ex.Name, kind)
		}
	}

	for _, ex := range topology.Exchanges {
		t.exchanges[ex.Name] = ex.Kind
	}
	for _, q := range topology.Queues {
		if _, ok := t.queues[q]; !ok {
			t.queues[q] = newMemoryQueue(q)
		}
	}
	for _, b := range topology.Bindings {
		if !t.hasBindingLocked(b) {
			t.bindings = append(t.bindings, b)
		}
	}

	return nil
}

func (t *MemoryTransport) hasBindingLocked(b Binding) bool {
	for _, existing := range t.bindings {
		if existing == b {
			return true
		}
	}
	return false
}

func (t *MemoryTransport) DeclareReplyQueue(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return "", errors.ErrConnection.WithMessage("not connected")
	}

	t.replySeq++
	name := fmt.Sprintf("amq.gen-reply-%d", t.replySeq)
	t.queues[name] = newMemoryQueue(name)
	return name, nil
}

// Publish routes through the exchange's bindings. The default exchange "" routes to the queue
// named by the routing key. Unroutable messages are discarded.
func (t *MemoryTransport) Publish(ctx context.Context, exchange, routingKey string, env models.Envelope, opts ...PublishOption) error {
	body, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		metrics.ObservePublish(exchange, routingKey, 0, errors.ErrConnection)
		return errors.ErrPublish.WithMessage("publish to %s/%s while disconnected", exchange, routingKey)
	}

	if t.fault != nil {
		if err := t.fault(exchange, routingKey); err != nil {
			metrics.ObservePublish(exchange, routingKey, 0, err)
			return errors.ErrPublish.
				WithMessage("failed to publish to %s/%s", exchange, routingKey).
				WithCause(err)
		}
	}

	o := applyPublishOptions(opts)
	msg := memoryMessage{inbound{
		Body:          body,
		MessageID:     env.ID,
		ReplyTo:       o.replyTo,
		CorrelationID: o.correlationID,
		Headers:       tracing.InjectTraceContext(ctx, amqp.Table{}),
	}}

	targets, err := t.routeLocked(exchange, routingKey)
	if err != nil {
		metrics.ObservePublish(exchange, routingKey, 0, err)
		return err
	}

	for _, q := range targets {
		q.messages = append(q.messages, msg)
		q.signal()
	}

	metrics.ObservePublish(exchange, routingKey, len(body), nil)
	return nil
}

// PublishRaw enqueues an arbitrary body directly on a queue.
func (t *MemoryTransport) PublishRaw(queue string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.queues[queue]
	if !ok {
		return errors.ErrNotFound.WithMessage("queue %s not declared", queue)
	}
	q.messages = append(q.messages, memoryMessage{inbound{Body: body}})
	q.signal()
	return nil
}

func (t *MemoryTransport) routeLocked(exchange, routingKey string) ([]*memoryQueue, error) {
	if exchange == "" {
		q, ok := t.queues[routingKey]
		if !ok {
			return nil, nil
		}
		return []*memoryQueue{q}, nil
	}

	if _, ok := t.exchanges[exchange]; !ok {
		return nil, errors.ErrPublish.WithMessage("exchange %s not declared", exchange)
	}

	var targets []*memoryQueue
	seen := make(map[string]bool)
	for _, b := range t.bindings {
		if b.Exchange != exchange || seen[b.Queue] || !topicMatch(b.RoutingKey, routingKey) {
			continue
		}
		if q, ok := t.queues[b.Queue]; ok {
			seen[b.Queue] = true
			targets = append(targets, q)
		}
	}
	return targets, nil
}

// Consume delivers one message at a time; the next is not taken until the handler returns.
func (t *MemoryTransport) Consume(ctx context.Context, queue string, handler HandlerFunc) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return errors.ErrConnection.WithMessage("not connected")
	}
	q, ok := t.queues[queue]
	lost := t.lost
	t.mu.Unlock()

	if !ok {
		return errors.ErrNotFound.WithMessage("queue %s not declared", queue)
	}

	d := newDispatcher(queue, handler, t.logger)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, ok := t.take(q)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-lost:
				return errors.ErrConnection.WithMessage("delivery stream for %s closed", queue)
			case <-q.notify:
			}
			continue
		}

		select {
		case <-lost:
			t.requeue(q, msg)
			return errors.ErrConnection.WithMessage("delivery stream for %s closed", queue)
		default:
		}

		if d.dispatch(ctx, msg.inbound) == NackRequeue {
			msg.Redelivered = true
			t.requeue(q, msg)
		}
	}
}

func (t *MemoryTransport) take(q *memoryQueue) (memoryMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(q.messages) == 0 {
		return memoryMessage{}, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

func (t *MemoryTransport) requeue(q *memoryQueue, msg memoryMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q.messages = append([]memoryMessage{msg}, q.messages...)
	q.signal()
}

// QueueDepth returns the number of messages waiting on queue.
func (t *MemoryTransport) QueueDepth(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if q, ok := t.queues[queue]; ok {
		return len(q.messages)
	}
	return 0
}

// Declared reports the number of exchanges, queues and bindings currently declared.
func (t *MemoryTransport) Declared() (exchanges, queues, bindings int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exchanges), len(t.queues), len(t.bindings)
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.disconnectLocked()
	t.closed = true
	return nil
}

// topicMatch implements AMQP topic matching: "*" is exactly one word, "#" is zero or more.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
