package scoring

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/cel"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type stubScorer map[string]float64

func (s stubScorer) Predict(ctx context.Context, measure string, f Features) (float64, error) {
	p, ok := s[measure]
	if !ok {
		return 0, fmt.Errorf("model for %s not loaded", measure)
	}
	return p, nil
}

type panicScorer struct{}

func (panicScorer) Predict(context.Context, string, Features) (float64, error) {
	panic("nil model")
}

type failingFeatures struct{}

func (failingFeatures) Features(context.Context, models.EvidenceRecord) (Features, error) {
	return Features{}, fmt.Errorf("member store unavailable")
}

func defaultEligibility(t *testing.T) *cel.Eligibility {
	t.Helper()
	el, err := EligibilityFromConfig(config.ScoringConfig{})
	require.NoError(t, err)
	return el
}

func allMeasures(t *testing.T) *cel.Eligibility {
	t.Helper()
	el, err := cel.NewEligibility([]cel.Rule{
		{Measure: constants.MeasureCCS, Expression: "true"},
		{Measure: constants.MeasureCOL, Expression: "true"},
		{Measure: constants.MeasureWCV, Expression: "true"},
	})
	require.NoError(t, err)
	return el
}

func newService(el *cel.Eligibility, features FeatureSource, scorer Scorer) Service {
	return NewService(el, features, scorer, logger.NopLogger(), WithClock(func() time.Time { return fixedNow }))
}

func evidence(memberID string, age *int) models.EvidenceRecord {
	return models.EvidenceRecord{
		MessageID:        "msg-" + memberID,
		MemberID:         memberID,
		MemberAge:        age,
		MeasuresDetected: []string{},
	}
}

func intPtr(v int) *int { return &v }

func TestPredictRiskLevels(t *testing.T) {
	svc := newService(allMeasures(t), SyntheticFeatures{}, stubScorer{
		constants.MeasureCCS: 0.71,
		constants.MeasureCOL: 0.55,
		constants.MeasureWCV: 0.10,
	})

	rec, err := svc.Predict(context.Background(), evidence("M1", intPtr(40)))
	require.NoError(t, err)

	assert.Equal(t, models.RiskHigh, rec.RiskPredictions[constants.MeasureCCS].Level)
	assert.Equal(t, models.RiskMedium, rec.RiskPredictions[constants.MeasureCOL].Level)
	assert.Equal(t, models.RiskLow, rec.RiskPredictions[constants.MeasureWCV].Level)
	assert.Equal(t, []string{constants.MeasureCCS}, rec.HighRiskMeasures)
	assert.Equal(t, constants.DefaultModelVersion, rec.RiskPredictions[constants.MeasureCCS].ModelVersion)
	assert.NoError(t, models.ValidateRiskRecord(&rec))
}

func TestPredictLevelMappingForEveryMeasure(t *testing.T) {
	cases := []struct {
		p    float64
		want models.RiskLevel
	}{
		{0.71, models.RiskHigh},
		{0.55, models.RiskMedium},
		{0.10, models.RiskLow},
	}

	for _, c := range cases {
		svc := newService(allMeasures(t), SyntheticFeatures{}, stubScorer{
			constants.MeasureCCS: c.p,
			constants.MeasureCOL: c.p,
			constants.MeasureWCV: c.p,
		})
		rec, err := svc.Predict(context.Background(), evidence("M2", intPtr(30)))
		require.NoError(t, err)

		for _, measure := range []string{constants.MeasureCCS, constants.MeasureCOL, constants.MeasureWCV} {
			assert.Equal(t, c.want, rec.RiskPredictions[measure].Level, "%s at %v", measure, c.p)
		}
	}
}

func TestPredictEligibilityByAge(t *testing.T) {
	scorer := stubScorer{constants.MeasureCCS: 0.2, constants.MeasureWCV: 0.2}

	tests := []struct {
		age  int
		want []string
	}{
		{age: 10, want: []string{constants.MeasureWCV}},
		{age: 18, want: []string{}},
		{age: 24, want: []string{constants.MeasureCCS}},
		{age: 64, want: []string{constants.MeasureCCS}},
		{age: 70, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("age %d", tt.age), func(t *testing.T) {
			rec, err := newService(defaultEligibility(t), SyntheticFeatures{}, scorer).
				Predict(context.Background(), evidence("M3", intPtr(tt.age)))
			require.NoError(t, err)

			assert.Equal(t, tt.age, rec.MemberAge)
			assert.NotNil(t, rec.RiskPredictions)
			assert.Equal(t, tt.want, rec.MeasureCodes())
			assert.Empty(t, rec.Error)
		})
	}
}

func TestPredictUsesFeatureAgeWhenRecordHasNone(t *testing.T) {
	rec := evidence("M4", nil)
	f, err := SyntheticFeatures{}.Features(context.Background(), rec)
	require.NoError(t, err)

	out, err := newService(defaultEligibility(t), SyntheticFeatures{}, NewLogisticScorer()).Predict(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, f.Age, out.MemberAge)
}

func TestPredictFailuresBecomeUnknown(t *testing.T) {
	tests := []struct {
		name   string
		scorer Scorer
	}{
		{name: "scorer error", scorer: stubScorer{}},
		{name: "scorer panic", scorer: panicScorer{}},
		{name: "probability out of range", scorer: stubScorer{constants.MeasureCCS: 1.7}},
		{name: "probability NaN", scorer: stubScorer{constants.MeasureCCS: math.NaN()}},
		{name: "probability infinite", scorer: stubScorer{constants.MeasureCCS: math.Inf(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newService(defaultEligibility(t), SyntheticFeatures{}, tt.scorer).
				Predict(context.Background(), evidence("M5", intPtr(30)))
			require.NoError(t, err)

			p := rec.RiskPredictions[constants.MeasureCCS]
			assert.Equal(t, models.RiskUnknown, p.Level)
			assert.Equal(t, UnknownProbability, p.Probability)
			assert.NotEmpty(t, p.Error)
			assert.Empty(t, rec.HighRiskMeasures)

			_, err = codec.Marshal(rec)
			assert.NoError(t, err)
		})
	}
}

func TestPredictFeatureFailure(t *testing.T) {
	svc := newService(defaultEligibility(t), failingFeatures{}, NewLogisticScorer())

	rec, err := svc.Predict(context.Background(), evidence("M6", nil))
	require.NoError(t, err)
	assert.Empty(t, rec.RiskPredictions)
	assert.NotEmpty(t, rec.Error)

	rec, err = svc.Predict(context.Background(), evidence("M6", intPtr(30)))
	require.NoError(t, err)
	assert.Equal(t, models.RiskUnknown, rec.RiskPredictions[constants.MeasureCCS].Level)
}

func TestPredictRejectsInconsistentEvidence(t *testing.T) {
	rec := evidence("M7", intPtr(30))
	rec.EvidenceFound = true

	_, err := newService(defaultEligibility(t), SyntheticFeatures{}, NewLogisticScorer()).Predict(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestSyntheticFeaturesAreStable(t *testing.T) {
	rec := evidence("M8", nil)
	a, err := SyntheticFeatures{}.Features(context.Background(), rec)
	require.NoError(t, err)
	b, err := SyntheticFeatures{}.Features(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a.Age, 18)
	assert.Less(t, a.Age, 80)

	rec.EvidenceFound = true
	rec.MeasuresDetected = []string{constants.MeasureCCS}
	c, err := SyntheticFeatures{}.Features(context.Background(), rec)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c.PCPVisits, 2)
	assert.LessOrEqual(t, c.MonthsWithoutPCPVisit, 3)
	assert.Equal(t, a.PriorScreenings+1, c.PriorScreenings)
}

func TestLogisticScorer(t *testing.T) {
	s := NewLogisticScorer()

	engaged := Features{Age: 40, PCPVisits: 8, PriorScreenings: 2, OutreachResponses: 3, HasPCPAssigned: true}
	lapsed := Features{Age: 40, MonthsWithoutPCPVisit: 11, ChronicConditions: 3, EDVisits: 4}

	low, err := s.Predict(context.Background(), constants.MeasureCCS, engaged)
	require.NoError(t, err)
	high, err := s.Predict(context.Background(), constants.MeasureCCS, lapsed)
	require.NoError(t, err)

	assert.Less(t, low, high)
	assert.Equal(t, models.RiskLow, models.LevelFor(low))
	assert.Equal(t, models.RiskHigh, models.LevelFor(high))

	_, err = s.Predict(context.Background(), "BCS", engaged)
	assert.Error(t, err)
}
