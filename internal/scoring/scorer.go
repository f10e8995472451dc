package scoring

import (
	"context"
	"math"

	"carepipe/internal/constants"
	"carepipe/pkg/errors"
)

// Scorer returns the probability that a member will not complete the measure.
type Scorer interface {
	Predict(ctx context.Context, measure string, f Features) (float64, error)
}

type logisticWeights struct {
	bias              float64
	age               float64
	pcpVisits         float64
	monthsWithoutPCP  float64
	chronicConditions float64
	edVisits          float64
	immunizations     float64
	priorScreenings   float64
	outreach          float64
	hasPCP            float64
}

func (w logisticWeights) logit(f Features) float64 {
	hasPCP := 0.0
	if f.HasPCPAssigned {
		hasPCP = 1
	}
	return w.bias +
		w.age*float64(f.Age) +
		w.pcpVisits*float64(f.PCPVisits) +
		w.monthsWithoutPCP*float64(f.MonthsWithoutPCPVisit) +
		w.chronicConditions*float64(f.ChronicConditions) +
		w.edVisits*float64(f.EDVisits) +
		w.immunizations*float64(f.Immunizations) +
		w.priorScreenings*float64(f.PriorScreenings) +
		w.outreach*float64(f.OutreachResponses) +
		w.hasPCP*hasPCP
}

// LogisticScorer is a fixed-coefficient logistic model per measure.
type LogisticScorer struct {
	weights map[string]logisticWeights
}

func NewLogisticScorer() *LogisticScorer {
	return &LogisticScorer{weights: map[string]logisticWeights{
		constants.MeasureCCS: {
			bias: 0.2, age: 0.01, pcpVisits: -0.18, monthsWithoutPCP: 0.15, chronicConditions: 0.1,
			edVisits: 0.08, priorScreenings: -0.7, outreach: -0.2, hasPCP: -0.5,
		},
		constants.MeasureCOL: {
			bias: -0.4, age: 0.02, pcpVisits: -0.15, monthsWithoutPCP: 0.12, chronicConditions: 0.15,
			edVisits: 0.05, priorScreenings: -0.6, outreach: -0.25, hasPCP: -0.4,
		},
		constants.MeasureWCV: {
			bias: 0.5, pcpVisits: -0.3, monthsWithoutPCP: 0.2, edVisits: 0.1,
			immunizations: -0.25, priorScreenings: -0.5, outreach: -0.3, hasPCP: -0.6,
		},
	}}
}

func (s *LogisticScorer) Predict(ctx context.Context, measure string, f Features) (float64, error) {
	w, ok := s.weights[measure]
	if !ok {
		return 0, errors.ErrStageLogic.WithMessage("no model for measure %s", measure)
	}
	p := 1 / (1 + math.Exp(-w.logit(f)))
	return math.Round(p*1e4) / 1e4, nil
}
