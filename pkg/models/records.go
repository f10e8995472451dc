package models

import (
	"sort"
	"time"
)

type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskUnknown RiskLevel = "UNKNOWN"
)

const (
	HighRiskThreshold   = 0.70
	MediumRiskThreshold = 0.40
)

// LevelFor maps a probability to its risk level. UNKNOWN is never produced here; it is reserved for
// failed predictions.
func LevelFor(probability float64) RiskLevel {
	switch {
	case probability >= HighRiskThreshold:
		return RiskHigh
	case probability >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// PriorityFor maps a risk level to a care-gap priority. UNKNOWN risk is treated as low.
func PriorityFor(level RiskLevel) Priority {
	switch level {
	case RiskHigh:
		return PriorityHigh
	case RiskMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// MaxPriority returns the highest of the given priorities, low when none are given.
func MaxPriority(priorities ...Priority) Priority {
	highest := PriorityLow
	for _, p := range priorities {
		if p.rank() > highest.rank() {
			highest = p
		}
	}
	return highest
}

// ClinicalMessage is the pipeline input as published by ingestion.
type ClinicalMessage struct {
	MessageID   string `json:"message_id"`
	MemberID    string `json:"member_id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	MemberAge   *int   `json:"member_age,omitempty"`
}

type EvidenceMatch struct {
	Measure string `json:"measure"`
	Term    string `json:"term"`
	Kind    string `json:"kind"`
	Line    int    `json:"line,omitempty"`
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

type Evidence struct {
	Source  string          `json:"source"`
	Matches []EvidenceMatch `json:"matches"`
	Summary string          `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type EvidenceRecord struct {
	MessageID           string    `json:"message_id"`
	MemberID            string    `json:"member_id"`
	MessageType         string    `json:"message_type"`
	MemberAge           *int      `json:"member_age,omitempty"`
	ProcessingTimestamp time.Time `json:"processing_timestamp"`
	EvidenceFound       bool      `json:"evidence_found"`
	MeasuresDetected    []string  `json:"measures_detected"`
	Evidence            Evidence  `json:"evidence"`
}

// SetMeasures stores the detected measures as a sorted set and keeps EvidenceFound in step with it.
func (r *EvidenceRecord) SetMeasures(measures []string) {
	set := make(map[string]struct{}, len(measures))
	out := make([]string, 0, len(measures))
	for _, m := range measures {
		if _, seen := set[m]; seen || m == "" {
			continue
		}
		set[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	r.MeasuresDetected = out
	r.EvidenceFound = len(out) > 0
}

func (r EvidenceRecord) HasMeasure(code string) bool {
	for _, m := range r.MeasuresDetected {
		if m == code {
			return true
		}
	}
	return false
}

type RiskPrediction struct {
	Probability  float64   `json:"probability"`
	Level        RiskLevel `json:"level"`
	ModelVersion string    `json:"model_version,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type RiskRecord struct {
	MessageID           string                    `json:"message_id"`
	MemberID            string                    `json:"member_id"`
	MemberAge           int                       `json:"member_age"`
	ProcessingTimestamp time.Time                 `json:"processing_timestamp"`
	EvidenceFound       bool                      `json:"evidence_found"`
	MeasuresDetected    []string                  `json:"measures_detected"`
	RiskPredictions     map[string]RiskPrediction `json:"risk_predictions"`
	HighRiskMeasures    []string                  `json:"high_risk_measures"`
	Error               string                    `json:"error,omitempty"`
}

// MeasureCodes returns the predicted measures in a stable order.
func (r RiskRecord) MeasureCodes() []string {
	codes := make([]string, 0, len(r.RiskPredictions))
	for code := range r.RiskPredictions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type CareGap struct {
	ID                  string    `json:"id"`
	MemberID            string    `json:"member_id"`
	MeasureCode         string    `json:"measure_code"`
	RiskLevel           RiskLevel `json:"risk_level"`
	RiskProbability     float64   `json:"risk_probability"`
	Priority            Priority  `json:"priority"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	InterventionDueDate time.Time `json:"intervention_due_date"`
	CarePlanID          string    `json:"care_plan_id"`
	RiskAssessmentID    string    `json:"risk_assessment_id"`
}

type FHIRReference struct {
	Reference string `json:"reference"`
}

type FHIRPrediction struct {
	Outcome         string  `json:"outcome"`
	Probability     float64 `json:"probabilityDecimal"`
	QualitativeRisk string  `json:"qualitativeRisk"`
}

type FHIRActivity struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Scheduled   string `json:"scheduledString,omitempty"`
}

// FHIRResource is the flattened subset of Patient, RiskAssessment and CarePlan the pipeline emits.
type FHIRResource struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id"`
	Status       string           `json:"status,omitempty"`
	Intent       string           `json:"intent,omitempty"`
	Title        string           `json:"title,omitempty"`
	Subject      *FHIRReference   `json:"subject,omitempty"`
	Prediction   []FHIRPrediction `json:"prediction,omitempty"`
	Activity     []FHIRActivity   `json:"activity,omitempty"`
}

func (r FHIRResource) Reference() string {
	return r.ResourceType + "/" + r.ID
}

type CarePlanRecord struct {
	MessageID           string         `json:"message_id"`
	MemberID            string         `json:"member_id"`
	MemberAge           int            `json:"member_age"`
	ProcessingTimestamp time.Time      `json:"processing_timestamp"`
	CareGaps            []CareGap      `json:"care_gaps"`
	Priority            Priority       `json:"priority"`
	FHIRResources       []FHIRResource `json:"fhir_resources"`
	HighRiskMeasures    []string       `json:"high_risk_measures"`
	TotalCareGaps       int            `json:"total_care_gaps"`
	Error               string         `json:"error,omitempty"`
}

func (p CarePlanRecord) HasHighRisk() bool {
	return len(p.HighRiskMeasures) > 0
}

type CareAlert struct {
	AlertID          string    `json:"alert_id"`
	AlertType        string    `json:"alert_type"`
	MessageID        string    `json:"message_id"`
	MemberID         string    `json:"member_id"`
	CarePlanID       string    `json:"care_plan_id"`
	HighRiskMeasures []string  `json:"high_risk_measures"`
	Priority         Priority  `json:"priority"`
	CreatedAt        time.Time `json:"created_at"`
}
