package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/internal/planning"
	"carepipe/internal/store"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/logging"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
)

type State string

const (
	StateReceived  State = "RECEIVED"
	StateExtracted State = "EXTRACTED"
	StateScored    State = "SCORED"
	StatePlanned   State = "PLANNED"
	StatePublished State = "PUBLISHED"
	StateFailed    State = "FAILED"
)

const (
	PublishedToBroker = "broker"
	PublishedToStore  = "store"
)

// Result is the outcome of one pipeline run. Failed runs carry the stage and reason; records of the
// stages that completed are kept either way.
type Result struct {
	Success   bool   `json:"success"`
	State     State  `json:"state"`
	Stage     string `json:"stage,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	MessageID string `json:"message_id"`
	MemberID  string `json:"member_id"`

	Evidence *models.EvidenceRecord `json:"evidence,omitempty"`
	Risk     *models.RiskRecord     `json:"risk,omitempty"`
	CarePlan *models.CarePlanRecord `json:"care_plan,omitempty"`
	Alert    *models.CareAlert      `json:"alert,omitempty"`

	Routes       map[string]Route `json:"routes"`
	Published    bool             `json:"published"`
	PublishedTo  string           `json:"published_to,omitempty"`
	PublishError string           `json:"publish_error,omitempty"`
}

// DashboardPublisher delivers finished plans to the dashboard-facing queues.
type DashboardPublisher interface {
	PublishCareGaps(ctx context.Context, plan models.CarePlanRecord) (models.Envelope, error)
	PublishCareAlert(ctx context.Context, alert models.CareAlert) (models.Envelope, error)
}

type Option func(*Orchestrator)

// WithFallbackStore writes plans straight to the store when the dashboard publish fails.
func WithFallbackStore(s store.CarePlanStore) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

type Orchestrator struct {
	selector  *TransportSelector
	publisher DashboardPublisher
	store     store.CarePlanStore
	logger    logger.Logger
}

func NewOrchestrator(selector *TransportSelector, publisher DashboardPublisher, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		selector:  selector,
		publisher: publisher,
		logger:    log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives msg through extraction, scoring, planning and publish. It never returns an error:
// transport fallback exhaustion and rejected input end in FAILED, a failed publish leaves the run
// successful but unpublished.
func (o *Orchestrator) Run(ctx context.Context, msg models.ClinicalMessage) Result {
	start := time.Now()
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	ctx = logging.WithMemberID(logging.WithMessageID(ctx, msg.MessageID), msg.MemberID)
	res := Result{
		State:     StateReceived,
		MessageID: msg.MessageID,
		MemberID:  msg.MemberID,
		Routes:    make(map[string]Route, 3),
	}
	defer func() {
		metrics.ObservePipeline(string(res.State), start)
	}()

	o.logger.InfowCtx(ctx, "Pipeline started")

	var evidence models.EvidenceRecord
	if !o.step(ctx, &res, ExtractionCall, msg, &evidence) {
		return res
	}
	res.Evidence = &evidence
	res.State = StateExtracted

	var risk models.RiskRecord
	if !o.step(ctx, &res, ScoringCall, evidence, &risk) {
		return res
	}
	res.Risk = &risk
	res.State = StateScored

	var plan models.CarePlanRecord
	if !o.step(ctx, &res, PlanningCall, risk, &plan) {
		return res
	}
	res.CarePlan = &plan
	res.State = StatePlanned
	res.Success = true

	if alert, ok := planning.BuildAlert(plan); ok {
		res.Alert = &alert
	}

	o.publish(ctx, &res)

	o.logger.InfowCtx(ctx, "Pipeline finished",
		"state", res.State,
		"routes", res.Routes,
		"care_gaps", plan.TotalCareGaps,
		"published_to", res.PublishedTo,
	)
	return res
}

func (o *Orchestrator) step(ctx context.Context, res *Result, call StageCall, payload any, out any) bool {
	ctx = logging.WithStage(ctx, call.Stage)

	raw, route, err := o.selector.Call(ctx, call, payload)
	res.Routes[call.Stage] = route
	if err == nil {
		err = decodeResult(raw, out)
	}
	if err != nil {
		o.fail(ctx, res, call.Stage, err)
		return false
	}
	return true
}

func decodeResult(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.ErrDecode.WithMessage("stage returned no result")
	}
	if err := codec.Unmarshal(raw, out); err != nil {
		return errors.ErrDecode.WithMessage("stage result is not a valid record").WithCause(err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, res *Result, stage string, err error) {
	res.Success = false
	res.State = StateFailed
	res.Stage = stage
	res.Reason = err.Error()
	res.ErrorCode = errors.Code(err)

	o.logger.ErrorwCtx(ctx, "Pipeline failed",
		"stage", stage,
		"error_code", res.ErrorCode,
		"error", err,
	)
}

func (o *Orchestrator) publish(ctx context.Context, res *Result) {
	ctx = logging.WithStage(ctx, constants.StagePublish)
	start := time.Now()

	err := o.publishToBroker(ctx, res)
	if err == nil {
		res.Published = true
		res.PublishedTo = PublishedToBroker
		res.State = StatePublished
		metrics.ObserveStage(constants.StagePublish, start, nil)
		return
	}

	o.logger.WarnwCtx(ctx, "Dashboard publish failed", "error", err)

	if o.store != nil {
		serr := o.saveToStore(ctx, res)
		if serr == nil {
			res.Published = true
			res.PublishedTo = PublishedToStore
			res.State = StatePublished
			metrics.FallbackUsageTotal.WithLabelValues(constants.StagePublish, errors.Code(err)).Inc()
			metrics.ObserveStage(constants.StagePublish, start, nil)
			return
		}
		o.logger.ErrorwCtx(ctx, "Store fallback failed", "error", serr)
		err = serr
	}

	res.Published = false
	res.PublishError = err.Error()
	metrics.ObserveStage(constants.StagePublish, start, err)
}

func (o *Orchestrator) publishToBroker(ctx context.Context, res *Result) error {
	if o.publisher == nil {
		return errors.ErrPublish.WithMessage("no dashboard publisher configured")
	}
	if _, err := o.publisher.PublishCareGaps(ctx, *res.CarePlan); err != nil {
		return err
	}
	if res.Alert != nil {
		if _, err := o.publisher.PublishCareAlert(ctx, *res.Alert); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) saveToStore(ctx context.Context, res *Result) error {
	if err := o.store.SavePlan(ctx, *res.CarePlan); err != nil {
		return err
	}
	if res.Alert != nil {
		return o.store.SaveAlert(ctx, *res.Alert)
	}
	return nil
}
