package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"

	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/circuitbreaker"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
	"carepipe/pkg/tracing"
)

type Route string

const (
	RouteBroker Route = "broker"
	RouteDirect Route = "direct"
)

// StageCall names where a stage is reached on each transport.
type StageCall struct {
	Stage      string
	Exchange   string
	RoutingKey string
	Service    string
	Operation  string
}

var (
	ExtractionCall = StageCall{
		Stage:      constants.StageExtraction,
		Exchange:   constants.ClinicalExchange,
		RoutingKey: constants.ClinicalMessageKey,
		Service:    constants.ServiceExtraction,
		Operation:  constants.OperationProcess,
	}
	ScoringCall = StageCall{
		Stage:      constants.StageScoring,
		Exchange:   constants.EvidenceExchange,
		RoutingKey: constants.ClinicalProcessedKey,
		Service:    constants.ServiceScoring,
		Operation:  constants.OperationPredict,
	}
	PlanningCall = StageCall{
		Stage:      constants.StagePlanning,
		Exchange:   constants.ScoringExchange,
		RoutingKey: constants.RiskCalculatedKey,
		Service:    constants.ServicePlanning,
		Operation:  constants.OperationOrchestrate,
	}
)

type Requester interface {
	Request(ctx context.Context, exchange, routingKey string, env models.Envelope) (models.Envelope, error)
}

type Caller interface {
	Call(ctx context.Context, service, operation string, payload any, timeout time.Duration) (models.StageResponse, error)
}

type HealthReporter interface {
	Healthy() bool
}

type SelectorOption func(*TransportSelector)

// WithBreaker guards the broker path. An open breaker sends calls straight to the direct path.
func WithBreaker(cb *circuitbreaker.Wrapper) SelectorOption {
	return func(s *TransportSelector) {
		s.breaker = cb
	}
}

func WithSelectorClock(now func() time.Time) SelectorOption {
	return func(s *TransportSelector) {
		s.now = now
	}
}

// TransportSelector is the single place the fallback policy lives: try the broker once when it is
// healthy, on a transport error call the stage directly once, never retry further.
type TransportSelector struct {
	broker    HealthReporter
	requester Requester
	caller    Caller
	breaker   *circuitbreaker.Wrapper
	timeout   time.Duration
	now       func() time.Time
	logger    logger.Logger
}

func NewTransportSelector(broker HealthReporter, requester Requester, caller Caller, timeout time.Duration, log logger.Logger, opts ...SelectorOption) *TransportSelector {
	if timeout <= 0 {
		timeout = constants.DefaultCallTimeout
	}
	s := &TransportSelector{
		broker:    broker,
		requester: requester,
		caller:    caller,
		timeout:   timeout,
		now:       time.Now,
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BreakerConfig is the circuit breaker setup for the broker path: only transport errors count as
// failures, a stage rejecting its input does not.
func BreakerConfig(base circuitbreaker.Config) circuitbreaker.Config {
	base.IsSuccessful = func(err error) bool {
		return err == nil || !errors.IsTransport(err)
	}
	return base
}

// Call runs one stage and returns its raw result together with the route that produced it.
func (s *TransportSelector) Call(ctx context.Context, call StageCall, payload any) (json.RawMessage, Route, error) {
	ctx, span := tracing.StartRouteSpan(ctx, call.Stage)
	result, route, err := s.route(ctx, call, payload)
	tracing.EndRouteSpan(span, string(route), errors.Code(err), err)
	return result, route, err
}

func (s *TransportSelector) route(ctx context.Context, call StageCall, payload any) (json.RawMessage, Route, error) {
	if s.broker != nil && s.requester != nil && s.broker.Healthy() {
		result, err := s.viaBroker(ctx, call, payload)
		if err == nil {
			metrics.StageRouteTotal.WithLabelValues(call.Stage, string(RouteBroker), "success").Inc()
			return result, RouteBroker, nil
		}
		metrics.StageRouteTotal.WithLabelValues(call.Stage, string(RouteBroker), "error").Inc()

		if !errors.IsTransport(err) {
			return nil, RouteBroker, err
		}

		s.logger.WarnwCtx(ctx, "Broker path failed, falling back to direct call",
			"stage", call.Stage,
			"error", err,
		)
		metrics.FallbackUsageTotal.WithLabelValues(call.Stage, errors.Code(err)).Inc()
	} else {
		metrics.FallbackUsageTotal.WithLabelValues(call.Stage, "broker_unhealthy").Inc()
	}

	result, err := s.viaDirect(ctx, call, payload)
	if err != nil {
		metrics.StageRouteTotal.WithLabelValues(call.Stage, string(RouteDirect), "error").Inc()
		return nil, RouteDirect, err
	}
	metrics.StageRouteTotal.WithLabelValues(call.Stage, string(RouteDirect), "success").Inc()
	return result, RouteDirect, nil
}

func (s *TransportSelector) viaBroker(ctx context.Context, call StageCall, payload any) (json.RawMessage, error) {
	env, err := codec.WrapAt(payload, s.now)
	if err != nil {
		return nil, err
	}

	request := func() (interface{}, error) {
		reply, err := s.requester.Request(ctx, call.Exchange, call.RoutingKey, env)
		if err != nil {
			return nil, err
		}

		resp, err := codec.Unwrap[models.StageResponse](reply)
		if err != nil {
			return nil, errors.ErrServiceUnavailable.WithMessage("unreadable reply from %s", call.Stage).WithCause(err)
		}
		if !resp.Success {
			return nil, errors.ErrStageRejected.
				WithMessage("%s rejected the request: %s", call.Stage, resp.Error).
				WithDetail("error_code", resp.ErrorCode)
		}
		return resp.Result, nil
	}

	var out interface{}
	if s.breaker != nil {
		out, err = s.breaker.ExecuteWithContext(ctx, request)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.ErrServiceUnavailable.WithMessage("broker circuit open").WithCause(err)
		}
	} else {
		out, err = request()
	}
	if err != nil {
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (s *TransportSelector) viaDirect(ctx context.Context, call StageCall, payload any) (json.RawMessage, error) {
	if s.caller == nil {
		return nil, errors.ErrCall.WithMessage("no direct-call route for %s", call.Stage)
	}
	resp, err := s.caller.Call(ctx, call.Service, call.Operation, payload, s.timeout)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}
