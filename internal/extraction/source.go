package extraction

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

const (
	SourceHL7               = "HL7"
	SourceObservation       = "Observation"
	SourceDiagnosticReport  = "DiagnosticReport"
	SourceProcedure         = "Procedure"
	SourceDocumentReference = "DocumentReference"
	SourceBundle            = "Bundle"
)

// Source is one decoded clinical input. The concrete type is chosen once, at decode time.
type Source interface {
	Kind() string
	ExtractEvidence(m *Matcher) []models.EvidenceMatch
}

type fhirCoding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

type fhirCodeableConcept struct {
	Coding []fhirCoding `json:"coding"`
	Text   string       `json:"text"`
}

func (c *fhirCodeableConcept) evidence(m *Matcher) []models.EvidenceMatch {
	if c == nil {
		return nil
	}
	var out []models.EvidenceMatch
	for _, coding := range c.Coding {
		if match, ok := m.MatchCode(coding.Code, coding.Display); ok {
			out = append(out, match)
		}
	}
	return out
}

func (c *fhirCodeableConcept) text() string {
	if c == nil {
		return ""
	}
	parts := []string{c.Text}
	for _, coding := range c.Coding {
		parts = append(parts, coding.Display)
	}
	return joinLines(parts...)
}

type fhirAttachment struct {
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
	Title       string `json:"title"`
}

// plainText returns the decoded attachment when it is text. Binary formats are not read.
func (a fhirAttachment) plainText() string {
	if a.Data == "" || !strings.HasPrefix(a.ContentType, "text/") {
		return a.Title
	}
	decoded, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return a.Title
	}
	return joinLines(a.Title, string(decoded))
}

type fhirNote struct {
	Text string `json:"text"`
}

// fhirResource is the union of the fields read from the supported resource types.
type fhirResource struct {
	ResourceType  string               `json:"resourceType"`
	ID            string               `json:"id"`
	Code          *fhirCodeableConcept `json:"code"`
	ValueString   string               `json:"valueString"`
	Conclusion    string               `json:"conclusion"`
	Description   string               `json:"description"`
	Note          []fhirNote           `json:"note"`
	PresentedForm []fhirAttachment     `json:"presentedForm"`
	Content       []struct {
		Attachment fhirAttachment `json:"attachment"`
	} `json:"content"`
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

type HL7Message struct {
	Text string
}

func (s HL7Message) Kind() string { return SourceHL7 }

func (s HL7Message) ExtractEvidence(m *Matcher) []models.EvidenceMatch {
	return m.MatchText(s.Text)
}

type Observation struct {
	Code  *fhirCodeableConcept
	Value string
	Notes []string
}

func (s Observation) Kind() string { return SourceObservation }

func (s Observation) ExtractEvidence(m *Matcher) []models.EvidenceMatch {
	out := s.Code.evidence(m)
	return append(out, m.MatchText(joinLines(append([]string{s.Code.text(), s.Value}, s.Notes...)...))...)
}

type DiagnosticReport struct {
	Code       *fhirCodeableConcept
	Conclusion string
	Forms      []fhirAttachment
}

func (s DiagnosticReport) Kind() string { return SourceDiagnosticReport }

func (s DiagnosticReport) ExtractEvidence(m *Matcher) []models.EvidenceMatch {
	parts := []string{s.Code.text(), s.Conclusion}
	for _, form := range s.Forms {
		parts = append(parts, form.plainText())
	}
	return append(s.Code.evidence(m), m.MatchText(joinLines(parts...))...)
}

type Procedure struct {
	Code  *fhirCodeableConcept
	Notes []string
}

func (s Procedure) Kind() string { return SourceProcedure }

func (s Procedure) ExtractEvidence(m *Matcher) []models.EvidenceMatch {
	return append(s.Code.evidence(m), m.MatchText(joinLines(append([]string{s.Code.text()}, s.Notes...)...))...)
}

type DocumentReference struct {
	Description string
	Attachments []fhirAttachment
}

func (s DocumentReference) Kind() string { return SourceDocumentReference }

func (s DocumentReference) ExtractEvidence(m *Matcher) []models.EvidenceMatch {
	parts := []string{s.Description}
	for _, a := range s.Attachments {
		parts = append(parts, a.plainText())
	}
	return m.MatchText(joinLines(parts...))
}

type Bundle struct {
	Entries []Source
}

func (s Bundle) Kind() string { return SourceBundle }

func (s Bundle) ExtractEvidence(m *Matcher) []models.EvidenceMatch {
	var out []models.EvidenceMatch
	for _, entry := range s.Entries {
		out = append(out, entry.ExtractEvidence(m)...)
	}
	return out
}

// DecodeSource picks the variant for msg. JSON content carrying a resourceType is read as FHIR;
// anything else is HL7 free text.
func DecodeSource(msg models.ClinicalMessage) (Source, error) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "{") {
		return HL7Message{Text: msg.Content}, nil
	}

	var res fhirResource
	if err := codec.Unmarshal([]byte(content), &res); err != nil {
		if strings.EqualFold(msg.MessageType, "FHIR") {
			return nil, errors.ErrDecode.WithMessage("FHIR content is not valid JSON").WithCause(err)
		}
		return HL7Message{Text: msg.Content}, nil
	}
	if res.ResourceType == "" {
		return HL7Message{Text: msg.Content}, nil
	}

	return sourceFromResource(res, 0)
}

const maxBundleDepth = 4

func sourceFromResource(res fhirResource, depth int) (Source, error) {
	notes := make([]string, 0, len(res.Note))
	for _, n := range res.Note {
		notes = append(notes, n.Text)
	}

	switch res.ResourceType {
	case SourceObservation:
		return Observation{Code: res.Code, Value: res.ValueString, Notes: notes}, nil
	case SourceDiagnosticReport:
		return DiagnosticReport{Code: res.Code, Conclusion: res.Conclusion, Forms: res.PresentedForm}, nil
	case SourceProcedure:
		return Procedure{Code: res.Code, Notes: notes}, nil
	case SourceDocumentReference:
		attachments := make([]fhirAttachment, 0, len(res.Content))
		for _, c := range res.Content {
			attachments = append(attachments, c.Attachment)
		}
		return DocumentReference{Description: res.Description, Attachments: attachments}, nil
	case SourceBundle:
		if depth >= maxBundleDepth {
			return nil, errors.ErrDecode.WithMessage("bundle nesting deeper than %d", maxBundleDepth)
		}
		bundle := Bundle{}
		for _, entry := range res.Entry {
			var inner fhirResource
			if err := codec.Unmarshal(entry.Resource, &inner); err != nil {
				return nil, errors.ErrDecode.WithMessage("bundle entry is not a FHIR resource").WithCause(err)
			}
			src, err := sourceFromResource(inner, depth+1)
			if err != nil {
				return nil, err
			}
			if src != nil {
				bundle.Entries = append(bundle.Entries, src)
			}
		}
		return bundle, nil
	default:
		// Resource types without screening evidence, e.g. Patient or Encounter.
		return nil, nil
	}
}

func joinLines(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
