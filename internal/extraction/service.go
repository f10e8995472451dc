package extraction

import (
	"context"
	"time"

	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/errors"
	"carepipe/pkg/logging"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
	"carepipe/pkg/tracing"
)

type Service interface {
	// Process turns a clinical message into an evidence record. Only invalid input is returned as
	// an error; failures inside matching or summarization yield the no-evidence record.
	Process(ctx context.Context, msg models.ClinicalMessage) (models.EvidenceRecord, error)
}

type Option func(*serviceImpl)

func WithSummarizer(s Summarizer) Option {
	return func(svc *serviceImpl) {
		svc.summarizer = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(svc *serviceImpl) {
		svc.now = now
	}
}

type serviceImpl struct {
	matcher    *Matcher
	summarizer Summarizer
	now        func() time.Time
	logger     logger.Logger
}

func NewService(matcher *Matcher, log logger.Logger, opts ...Option) Service {
	svc := &serviceImpl{
		matcher:    matcher,
		summarizer: TemplateSummarizer{},
		now:        time.Now,
		logger:     log,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *serviceImpl) Process(ctx context.Context, msg models.ClinicalMessage) (record models.EvidenceRecord, err error) {
	start := time.Now()
	if verr := models.ValidateClinicalMessage(&msg); verr != nil {
		metrics.ObserveStage(constants.StageExtraction, start, verr)
		return models.EvidenceRecord{}, errors.ErrValidation.WithMessage("%s", verr.Error())
	}

	ctx = logging.WithStage(logging.WithMemberID(logging.WithMessageID(ctx, msg.MessageID), msg.MemberID), constants.StageExtraction)
	ctx, span := tracing.StartStageSpan(ctx, constants.StageExtraction)
	defer span.End()

	record = models.EvidenceRecord{
		MessageID:           msg.MessageID,
		MemberID:            msg.MemberID,
		MessageType:         msg.MessageType,
		MemberAge:           msg.MemberAge,
		ProcessingTimestamp: s.now().UTC(),
		MeasuresDetected:    []string{},
		Evidence:            models.Evidence{Source: SourceHL7, Matches: []models.EvidenceMatch{}},
	}

	evidence, logicErr := s.extract(ctx, msg)
	if logicErr != nil {
		s.logger.WarnwCtx(ctx, "Extraction failed, returning no-evidence result", "error", logicErr)
		record.Evidence.Error = logicErr.Error()
		metrics.ObserveStage(constants.StageExtraction, start, logicErr)
		return record, nil
	}

	record.Evidence = evidence
	record.SetMeasures(Measures(evidence.Matches))

	s.logger.InfowCtx(ctx, "Extraction completed",
		"source", evidence.Source,
		"evidence_found", record.EvidenceFound,
		"measures", record.MeasuresDetected,
		"matches", len(evidence.Matches),
	)
	metrics.ObserveStage(constants.StageExtraction, start, nil)
	return record, nil
}

func (s *serviceImpl) extract(ctx context.Context, msg models.ClinicalMessage) (evidence models.Evidence, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverStagePanic(constants.StageExtraction, r)
		}
	}()

	src, err := DecodeSource(msg)
	if err != nil {
		return models.Evidence{}, errors.ErrStageLogic.WithMessage("cannot read %s content", msg.MessageType).WithCause(err)
	}

	evidence = models.Evidence{Source: SourceHL7, Matches: []models.EvidenceMatch{}}
	if src == nil {
		evidence.Summary, _ = TemplateSummarizer{}.Summarize(ctx, "FHIR", nil)
		return evidence, nil
	}

	evidence.Source = src.Kind()
	if matches := src.ExtractEvidence(s.matcher); matches != nil {
		evidence.Matches = matches
	}

	summary, err := s.summarizer.Summarize(ctx, evidence.Source, evidence.Matches)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Summarizer failed, using template summary", "error", err)
		summary, _ = TemplateSummarizer{}.Summarize(ctx, evidence.Source, evidence.Matches)
	}
	evidence.Summary = summary
	return evidence, nil
}
