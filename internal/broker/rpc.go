package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

// Requester sends a stage request over the broker and waits for the reply on a private queue,
// matched by correlation id.
type Requester struct {
	transport Transport
	logger    logger.Logger
	timeout   time.Duration

	mu         sync.Mutex
	pending    map[string]chan models.Envelope
	replyQueue string
	running    bool
	done       chan struct{}
	baseCtx    context.Context
}

func NewRequester(transport Transport, timeout time.Duration, log logger.Logger) *Requester {
	if timeout <= 0 {
		timeout = constants.DefaultReplyTimeout
	}
	return &Requester{
		transport: transport,
		logger:    log,
		timeout:   timeout,
		pending:   make(map[string]chan models.Envelope),
	}
}

// Start declares the reply queue and begins consuming it for the lifetime of ctx.
func (r *Requester) Start(ctx context.Context) error {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
	return r.ensureRunning()
}

// Ready reports whether replies can currently be received.
func (r *Requester) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Requester) ensureRunning() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if r.baseCtx == nil {
		return errors.ErrConnection.WithMessage("requester not started")
	}
	if !r.transport.Healthy() {
		return errors.ErrConnection.WithMessage("broker is not connected")
	}

	queue, err := r.transport.DeclareReplyQueue(r.baseCtx)
	if err != nil {
		return err
	}

	r.replyQueue = queue
	r.running = true
	r.done = make(chan struct{})

	go r.consumeReplies(r.baseCtx, queue, r.done)
	return nil
}

func (r *Requester) consumeReplies(ctx context.Context, queue string, done chan struct{}) {
	err := r.transport.Consume(ctx, queue, r.handleReply)

	r.mu.Lock()
	r.running = false
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
	close(done)
	r.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		r.logger.Warnw("Reply consumer stopped", "queue", queue, "error", err)
	}
}

func (r *Requester) handleReply(ctx context.Context, d Delivery) Disposition {
	r.mu.Lock()
	ch, ok := r.pending[d.CorrelationID]
	if ok {
		delete(r.pending, d.CorrelationID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.DebugwCtx(ctx, "Discarding reply with unknown correlation id",
			"correlation_id", d.CorrelationID,
		)
		return Ack
	}

	ch <- d.Envelope
	return Ack
}

// Request publishes env with a reply-to and blocks until the reply, the timeout or ctx.
// Every failure is a transport error.
func (r *Requester) Request(ctx context.Context, exchange, routingKey string, env models.Envelope) (models.Envelope, error) {
	if err := r.ensureRunning(); err != nil {
		return models.Envelope{}, err
	}

	correlationID := uuid.NewString()
	replyCh := make(chan models.Envelope, 1)

	r.mu.Lock()
	queue := r.replyQueue
	done := r.done
	r.pending[correlationID] = replyCh
	r.mu.Unlock()

	forget := func() {
		r.mu.Lock()
		delete(r.pending, correlationID)
		r.mu.Unlock()
	}

	if err := r.transport.Publish(ctx, exchange, routingKey, env,
		WithReplyTo(queue),
		WithCorrelationID(correlationID),
	); err != nil {
		forget()
		return models.Envelope{}, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return models.Envelope{}, errors.ErrConnection.WithMessage("reply queue closed while waiting")
		}
		return reply, nil
	case <-done:
		forget()
		return models.Envelope{}, errors.ErrConnection.WithMessage("reply queue closed while waiting")
	case <-timer.C:
		forget()
		return models.Envelope{}, errors.ErrTimeout.
			WithMessage("no reply from %s/%s within %s", exchange, routingKey, r.timeout).
			WithDetail("correlation_id", correlationID)
	case <-ctx.Done():
		forget()
		return models.Envelope{}, errors.ErrTimeout.WithMessage("request cancelled").WithCause(ctx.Err())
	}
}

// Reply answers a request delivery on its reply-to queue.
func Reply(ctx context.Context, transport Transport, d Delivery, resp models.StageResponse) error {
	env, err := codec.Wrap(resp)
	if err != nil {
		return err
	}
	return transport.Publish(ctx, "", d.ReplyTo, env, WithCorrelationID(d.CorrelationID))
}
