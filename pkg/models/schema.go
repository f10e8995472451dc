package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateClinicalMessage(msg *ClinicalMessage) error {
	if msg == nil {
		return &ValidationError{Field: "message", Message: "clinical message cannot be nil"}
	}

	if msg.MemberID == "" {
		return &ValidationError{Field: "member_id", Message: "member ID is required"}
	}

	if msg.Content == "" {
		return &ValidationError{Field: "content", Message: "message content is required"}
	}

	if msg.MemberAge != nil && *msg.MemberAge < 0 {
		return &ValidationError{Field: "member_age", Message: "member age cannot be negative"}
	}

	return nil
}

func ValidateEvidenceRecord(rec *EvidenceRecord) error {
	if rec == nil {
		return &ValidationError{Field: "evidence", Message: "evidence record cannot be nil"}
	}

	if rec.MemberID == "" {
		return &ValidationError{Field: "member_id", Message: "member ID is required"}
	}

	if rec.EvidenceFound != (len(rec.MeasuresDetected) > 0) {
		return &ValidationError{
			Field:   "evidence_found",
			Message: fmt.Sprintf("evidence_found=%t disagrees with %d detected measures", rec.EvidenceFound, len(rec.MeasuresDetected)),
		}
	}

	return nil
}

func ValidateRiskRecord(rec *RiskRecord) error {
	if rec == nil {
		return &ValidationError{Field: "risk", Message: "risk record cannot be nil"}
	}

	if rec.MemberID == "" {
		return &ValidationError{Field: "member_id", Message: "member ID is required"}
	}

	for code, p := range rec.RiskPredictions {
		if !(p.Probability >= 0 && p.Probability <= 1) {
			return &ValidationError{
				Field:   "risk_predictions." + code,
				Message: fmt.Sprintf("probability %v outside [0,1]", p.Probability),
			}
		}
		if p.Level != RiskUnknown && p.Level != LevelFor(p.Probability) {
			return &ValidationError{
				Field:   "risk_predictions." + code,
				Message: fmt.Sprintf("level %s does not match probability %v", p.Level, p.Probability),
			}
		}
	}

	return nil
}
