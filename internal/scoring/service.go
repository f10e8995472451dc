package scoring

import (
	"context"
	"sort"
	"time"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/cel"
	"carepipe/pkg/errors"
	"carepipe/pkg/logging"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
	"carepipe/pkg/tracing"
)

// UnknownProbability is reported with UNKNOWN risk when a prediction fails.
const UnknownProbability = 0.5

type Service interface {
	// Predict scores every measure the member is eligible for. Age is read from the record when
	// present and from the feature source otherwise.
	Predict(ctx context.Context, rec models.EvidenceRecord) (models.RiskRecord, error)
}

type Option func(*serviceImpl)

func WithClock(now func() time.Time) Option {
	return func(s *serviceImpl) {
		s.now = now
	}
}

func WithModelVersion(version string) Option {
	return func(s *serviceImpl) {
		if version != "" {
			s.modelVersion = version
		}
	}
}

type serviceImpl struct {
	eligibility  *cel.Eligibility
	features     FeatureSource
	scorer       Scorer
	modelVersion string
	now          func() time.Time
	logger       logger.Logger
}

func NewService(eligibility *cel.Eligibility, features FeatureSource, scorer Scorer, log logger.Logger, opts ...Option) Service {
	s := &serviceImpl{
		eligibility:  eligibility,
		features:     features,
		scorer:       scorer,
		modelVersion: constants.DefaultModelVersion,
		now:          time.Now,
		logger:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EligibilityFromConfig compiles the configured rules, falling back to the default age bands.
func EligibilityFromConfig(cfg config.ScoringConfig) (*cel.Eligibility, error) {
	rules := cfg.Eligibility
	if len(rules) == 0 {
		rules = config.DefaultEligibility()
	}
	out := make([]cel.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, cel.Rule{Measure: r.Measure, Expression: r.Expression})
	}
	return cel.NewEligibility(out)
}

func (s *serviceImpl) Predict(ctx context.Context, rec models.EvidenceRecord) (models.RiskRecord, error) {
	start := time.Now()
	if verr := models.ValidateEvidenceRecord(&rec); verr != nil {
		metrics.ObserveStage(constants.StageScoring, start, verr)
		return models.RiskRecord{}, errors.ErrValidation.WithMessage("%s", verr.Error())
	}

	ctx = logging.WithStage(logging.WithMemberID(logging.WithMessageID(ctx, rec.MessageID), rec.MemberID), constants.StageScoring)
	ctx, span := tracing.StartStageSpan(ctx, constants.StageScoring)
	defer span.End()

	measures := rec.MeasuresDetected
	if measures == nil {
		measures = []string{}
	}

	out := models.RiskRecord{
		MessageID:           rec.MessageID,
		MemberID:            rec.MemberID,
		ProcessingTimestamp: s.now().UTC(),
		EvidenceFound:       rec.EvidenceFound,
		MeasuresDetected:    measures,
		RiskPredictions:     map[string]models.RiskPrediction{},
		HighRiskMeasures:    []string{},
	}
	features, err := s.loadFeatures(ctx, rec)
	if err != nil && rec.MemberAge == nil {
		s.logger.WarnwCtx(ctx, "No member age available, returning empty risk set", "error", err)
		out.Error = err.Error()
		metrics.ObserveStage(constants.StageScoring, start, err)
		return out, nil
	}
	if rec.MemberAge != nil {
		features.Age = *rec.MemberAge
	}
	out.MemberAge = features.Age

	eligible, eerr := s.eligibility.Eligible(ctx, cel.Facts{
		Age:              features.Age,
		EvidenceFound:    rec.EvidenceFound,
		MeasuresDetected: measures,
		MemberID:         rec.MemberID,
	})
	if eerr != nil {
		s.logger.WarnwCtx(ctx, "Eligibility evaluation failed, returning empty risk set", "error", eerr)
		out.Error = eerr.Error()
		metrics.ObserveStage(constants.StageScoring, start, eerr)
		return out, nil
	}

	for _, measure := range eligible {
		var prediction models.RiskPrediction
		if err != nil {
			prediction = s.unknown(err)
		} else {
			prediction = s.score(ctx, measure, features)
		}
		out.RiskPredictions[measure] = prediction
		if prediction.Level == models.RiskHigh {
			out.HighRiskMeasures = append(out.HighRiskMeasures, measure)
		}
	}
	sort.Strings(out.HighRiskMeasures)

	s.logger.InfowCtx(ctx, "Risk scoring completed",
		"member_age", out.MemberAge,
		"eligible", eligible,
		"high_risk", out.HighRiskMeasures,
	)
	metrics.ObserveStage(constants.StageScoring, start, nil)
	return out, nil
}

func (s *serviceImpl) loadFeatures(ctx context.Context, rec models.EvidenceRecord) (f Features, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverStagePanic(constants.StageScoring, r)
		}
	}()

	f, err = s.features.Features(ctx, rec)
	if err != nil {
		return Features{}, errors.ErrStageLogic.WithMessage("feature lookup failed").WithCause(err)
	}
	return f, nil
}

func (s *serviceImpl) score(ctx context.Context, measure string, f Features) (prediction models.RiskPrediction) {
	defer func() {
		if r := recover(); r != nil {
			prediction = s.unknown(errors.RecoverStagePanic(constants.StageScoring, r))
		}
	}()

	p, err := s.scorer.Predict(ctx, measure, f)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Prediction failed", "measure", measure, "error", err)
		return s.unknown(err)
	}
	if !(p >= 0 && p <= 1) {
		return s.unknown(errors.ErrStageLogic.WithMessage("probability %v outside [0,1] for %s", p, measure))
	}

	return models.RiskPrediction{
		Probability:  p,
		Level:        models.LevelFor(p),
		ModelVersion: s.modelVersion,
	}
}

func (s *serviceImpl) unknown(err error) models.RiskPrediction {
	return models.RiskPrediction{
		Probability:  UnknownProbability,
		Level:        models.RiskUnknown,
		ModelVersion: s.modelVersion,
		Error:        err.Error(),
	}
}
