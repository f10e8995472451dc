package extraction

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/internal/constants"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

func TestDecodeSource(t *testing.T) {
	note := base64.StdEncoding.EncodeToString([]byte("Colonoscopy performed, no polyps"))

	tests := []struct {
		name     string
		msg      models.ClinicalMessage
		kind     string
		measures []string
	}{
		{
			name:     "free text is HL7",
			msg:      models.ClinicalMessage{MessageType: "HL7", Content: "OBX|1|TX|Pap smear normal"},
			kind:     SourceHL7,
			measures: []string{constants.MeasureCCS},
		},
		{
			name:     "json without resourceType is HL7",
			msg:      models.ClinicalMessage{MessageType: "HL7", Content: `{"note":"well visit"}`},
			kind:     SourceHL7,
			measures: []string{constants.MeasureWCV},
		},
		{
			name: "observation coding",
			msg: models.ClinicalMessage{MessageType: "FHIR", Content: `{
				"resourceType":"Observation",
				"code":{"coding":[{"system":"http://loinc.org","code":"10524-7","display":"Microscopic observation"}]}
			}`},
			kind:     SourceObservation,
			measures: []string{constants.MeasureCCS},
		},
		{
			name: "procedure coding and text",
			msg: models.ClinicalMessage{MessageType: "FHIR", Content: `{
				"resourceType":"Procedure",
				"code":{"coding":[{"code":"410620009","display":"Well child visit"}]}
			}`},
			kind:     SourceProcedure,
			measures: []string{constants.MeasureWCV, constants.MeasureWCV},
		},
		{
			name: "document reference text attachment",
			msg: models.ClinicalMessage{MessageType: "FHIR", Content: `{
				"resourceType":"DocumentReference",
				"content":[{"attachment":{"contentType":"text/plain","data":"` + note + `"}}]
			}`},
			kind:     SourceDocumentReference,
			measures: []string{constants.MeasureCOL},
		},
		{
			name: "document reference binary attachment is skipped",
			msg: models.ClinicalMessage{MessageType: "FHIR", Content: `{
				"resourceType":"DocumentReference",
				"content":[{"attachment":{"contentType":"application/pdf","data":"` + note + `"}}]
			}`},
			kind:     SourceDocumentReference,
			measures: []string{},
		},
		{
			name: "bundle entries",
			msg: models.ClinicalMessage{MessageType: "FHIR", Content: `{
				"resourceType":"Bundle",
				"entry":[
					{"resource":{"resourceType":"Patient","id":"p1"}},
					{"resource":{"resourceType":"DiagnosticReport","conclusion":"FOBT negative"}}
				]
			}`},
			kind:     SourceBundle,
			measures: []string{constants.MeasureCOL},
		},
	}

	m := NewMatcher(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := DecodeSource(tt.msg)
			require.NoError(t, err)
			require.NotNil(t, src)
			assert.Equal(t, tt.kind, src.Kind())

			measures := []string{}
			for _, match := range src.ExtractEvidence(m) {
				measures = append(measures, match.Measure)
			}
			assert.Equal(t, tt.measures, measures)
		})
	}
}

func TestDecodeSourceUnsupportedResource(t *testing.T) {
	src, err := DecodeSource(models.ClinicalMessage{MessageType: "FHIR", Content: `{"resourceType":"Patient","id":"p1"}`})
	require.NoError(t, err)
	assert.Nil(t, src)
}

func TestDecodeSourceMalformedFHIR(t *testing.T) {
	_, err := DecodeSource(models.ClinicalMessage{MessageType: "FHIR", Content: `{"resourceType":`})
	require.Error(t, err)
	assert.True(t, errors.IsDecode(err))

	src, err := DecodeSource(models.ClinicalMessage{MessageType: "HL7", Content: `{broken pap`})
	require.NoError(t, err)
	assert.Equal(t, SourceHL7, src.Kind())
}
