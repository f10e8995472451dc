package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		probability float64
		want        RiskLevel
	}{
		{0.71, RiskHigh},
		{0.70, RiskHigh},
		{0.69, RiskMedium},
		{0.55, RiskMedium},
		{0.40, RiskMedium},
		{0.39, RiskLow},
		{0.10, RiskLow},
		{0, RiskLow},
		{1, RiskHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.probability), "probability %v", tt.probability)
	}
}

func TestMaxPriority(t *testing.T) {
	assert.Equal(t, PriorityLow, MaxPriority())
	assert.Equal(t, PriorityMedium, MaxPriority(PriorityLow, PriorityMedium))
	assert.Equal(t, PriorityHigh, MaxPriority(PriorityMedium, PriorityHigh, PriorityLow))
	assert.Equal(t, PriorityLow, PriorityFor(RiskUnknown))
}

func TestEvidenceRecordSetMeasures(t *testing.T) {
	var rec EvidenceRecord
	rec.SetMeasures([]string{"COL", "CCS", "COL", ""})
	assert.Equal(t, []string{"CCS", "COL"}, rec.MeasuresDetected)
	assert.True(t, rec.EvidenceFound)
	assert.True(t, rec.HasMeasure("COL"))

	rec.SetMeasures(nil)
	assert.NotNil(t, rec.MeasuresDetected)
	assert.Empty(t, rec.MeasuresDetected)
	assert.False(t, rec.EvidenceFound)
}

func TestValidateRecords(t *testing.T) {
	age := 30
	require.NoError(t, ValidateClinicalMessage(&ClinicalMessage{MemberID: "m1", Content: "PAP smear", MemberAge: &age}))

	err := ValidateClinicalMessage(&ClinicalMessage{Content: "x"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "member_id", vErr.Field)

	err = ValidateEvidenceRecord(&EvidenceRecord{MemberID: "m1", EvidenceFound: true})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "evidence_found", vErr.Field)

	err = ValidateRiskRecord(&RiskRecord{MemberID: "m1", RiskPredictions: map[string]RiskPrediction{
		"CCS": {Probability: 0.2, Level: RiskHigh},
	}})
	require.ErrorAs(t, err, &vErr)

	err = ValidateRiskRecord(&RiskRecord{MemberID: "m1", RiskPredictions: map[string]RiskPrediction{
		"CCS": {Probability: math.NaN(), Level: RiskLow},
	}})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "risk_predictions.CCS", vErr.Field)

	require.NoError(t, ValidateRiskRecord(&RiskRecord{MemberID: "m1", RiskPredictions: map[string]RiskPrediction{
		"CCS": {Probability: 0.5, Level: RiskUnknown},
		"WCV": {Probability: 0.71, Level: RiskHigh},
	}}))
}
