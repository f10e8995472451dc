package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	age := 42
	records := []any{
		models.ClinicalMessage{MessageID: "msg-1", MemberID: "M001", MessageType: "HL7", Content: "PAP smear 2023", MemberAge: &age},
		models.RiskRecord{
			MessageID: "msg-1",
			MemberID:  "M001",
			MemberAge: 42,
			RiskPredictions: map[string]models.RiskPrediction{
				"CCS": {Probability: 0.71, Level: models.RiskHigh},
			},
			HighRiskMeasures: []string{"CCS"},
			MeasuresDetected: []string{},
		},
	}

	for _, record := range records {
		env, err := Wrap(record)
		require.NoError(t, err)
		require.NotEmpty(t, env.ID)

		body, err := EncodeEnvelope(env)
		require.NoError(t, err)

		decoded, err := DecodeEnvelope(body)
		require.NoError(t, err)

		assert.Equal(t, env.ID, decoded.ID)
		assert.True(t, env.Timestamp.Equal(decoded.Timestamp))
		assert.JSONEq(t, string(env.Data), string(decoded.Data))
	}
}

func TestEnvelopeKeepsAssignedIdentity(t *testing.T) {
	ts := time.Date(2025, 1, 15, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	env := models.NewEnvelopeBuilder().
		WithID("a4c1d2e0-0000-4000-8000-000000000001").
		WithTimestamp(ts).
		WithData(json.RawMessage(`{"member_id":"M001"}`)).
		Build()
	assert.Equal(t, time.UTC, env.Timestamp.Location())

	body, err := EncodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, "a4c1d2e0-0000-4000-8000-000000000001", decoded.ID)
	assert.True(t, ts.Equal(decoded.Timestamp))
	assert.JSONEq(t, `{"member_id":"M001"}`, string(decoded.Data))
}

func TestUnwrapRestoresRecord(t *testing.T) {
	ts := time.Date(2025, 3, 4, 10, 30, 0, 123456789, time.UTC)
	in := models.EvidenceRecord{
		MessageID:           "msg-7",
		MemberID:            "M007",
		MessageType:         "HL7",
		ProcessingTimestamp: ts,
		Evidence:            models.Evidence{Source: "hl7", Matches: []models.EvidenceMatch{}},
	}
	in.SetMeasures([]string{"COL"})

	env, err := WrapAt(in, func() time.Time { return ts })
	require.NoError(t, err)
	assert.Equal(t, ts, env.Timestamp)

	body, err := EncodeEnvelope(env)
	require.NoError(t, err)
	decoded, err := DecodeEnvelope(body)
	require.NoError(t, err)

	out, err := Unwrap[models.EvidenceRecord](decoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Timestamp, decoded.Timestamp)
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "PAP smear"},
		{name: "truncated", body: `{"id":"a","data":{`},
		{name: "missing data", body: `{"id":"a","timestamp":"2025-01-01T00:00:00Z"}`},
		{name: "null data", body: `{"id":"a","timestamp":"2025-01-01T00:00:00Z","data":null}`},
		{name: "bad timestamp", body: `{"id":"a","timestamp":"yesterday","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsDecode(err))
		})
	}
}

func TestDecodeEnvelopeToleratesUnknownFieldsAndNaiveTimestamps(t *testing.T) {
	body := `{"id":"abc","timestamp":"2024-06-01T08:15:30.250000","data":{"member_id":"M1"},"source":"legacy","version":3}`

	env, err := DecodeEnvelope([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "abc", env.ID)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 15, 30, 250000000, time.UTC), env.Timestamp)

	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "M1", data["member_id"])
}

func TestEncodeEnvelopeRequiresData(t *testing.T) {
	_, err := EncodeEnvelope(models.Envelope{ID: "x", Timestamp: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
