package extraction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestService(opts ...Option) Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(NewMatcher(nil), logger.NopLogger(), opts...)
}

type panicSummarizer struct{}

func (panicSummarizer) Summarize(context.Context, string, []models.EvidenceMatch) (string, error) {
	panic("model not loaded")
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string, []models.EvidenceMatch) (string, error) {
	return "", fmt.Errorf("upstream unavailable")
}

func TestProcessFindsEvidence(t *testing.T) {
	rec, err := newTestService().Process(context.Background(), models.ClinicalMessage{
		MessageID:   "msg-1",
		MemberID:    "M100",
		MessageType: "HL7",
		Content:     "OBX|1|TX|Colonoscopy 2019\nOBX|2|TX|HPV co-test negative\nOBX|3|TX|Colonoscopy follow-up",
	})
	require.NoError(t, err)

	assert.True(t, rec.EvidenceFound)
	assert.Equal(t, []string{constants.MeasureCCS, constants.MeasureCOL}, rec.MeasuresDetected)
	assert.Len(t, rec.Evidence.Matches, 3)
	assert.Equal(t, SourceHL7, rec.Evidence.Source)
	assert.Contains(t, rec.Evidence.Summary, "CCS (hpv)")
	assert.Equal(t, fixedNow, rec.ProcessingTimestamp)
	assert.Empty(t, rec.Evidence.Error)
}

func TestProcessNoEvidence(t *testing.T) {
	rec, err := newTestService().Process(context.Background(), models.ClinicalMessage{
		MessageID:   "msg-2",
		MemberID:    "M200",
		MessageType: "HL7",
		Content:     "Annual physical. Blood pressure normal.",
	})
	require.NoError(t, err)

	assert.False(t, rec.EvidenceFound)
	assert.NotNil(t, rec.MeasuresDetected)
	assert.Empty(t, rec.MeasuresDetected)
	assert.Empty(t, rec.Evidence.Matches)
	assert.NoError(t, models.ValidateEvidenceRecord(&rec))
}

func TestProcessCarriesMemberAge(t *testing.T) {
	age := 42
	rec, err := newTestService().Process(context.Background(), models.ClinicalMessage{
		MessageID: "msg-3", MemberID: "M300", Content: "pap smear", MemberAge: &age,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.MemberAge)
	assert.Equal(t, 42, *rec.MemberAge)
}

func TestProcessRejectsInvalidMessage(t *testing.T) {
	_, err := newTestService().Process(context.Background(), models.ClinicalMessage{MessageID: "msg-4", Content: "pap"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestProcessDowngradesStageFailures(t *testing.T) {
	tests := []struct {
		name string
		svc  Service
		msg  models.ClinicalMessage
	}{
		{
			name: "panic in summarizer",
			svc:  newTestService(WithSummarizer(panicSummarizer{})),
			msg:  models.ClinicalMessage{MessageID: "m", MemberID: "M1", Content: "pap smear"},
		},
		{
			name: "unreadable FHIR",
			svc:  newTestService(),
			msg:  models.ClinicalMessage{MessageID: "m", MemberID: "M1", MessageType: "FHIR", Content: "{not-json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := tt.svc.Process(context.Background(), tt.msg)
			require.NoError(t, err)

			assert.False(t, rec.EvidenceFound)
			assert.Empty(t, rec.MeasuresDetected)
			assert.NotEmpty(t, rec.Evidence.Error)
			assert.Equal(t, "M1", rec.MemberID)
		})
	}
}

func TestProcessFallsBackToTemplateSummary(t *testing.T) {
	rec, err := newTestService(WithSummarizer(failingSummarizer{})).Process(context.Background(), models.ClinicalMessage{
		MessageID: "m", MemberID: "M1", Content: "well child check",
	})
	require.NoError(t, err)
	assert.True(t, rec.EvidenceFound)
	assert.Contains(t, rec.Evidence.Summary, "WCV (well child)")
}
