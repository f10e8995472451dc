package planning

import (
	"strings"
	"time"

	"carepipe/internal/constants"
	"carepipe/pkg/models"
)

const (
	GapStatusOpen = "open"

	ActivityOutreach = "OUTREACH"
	dateLayout       = "2006-01-02"
)

var measureDescriptions = map[string]string{
	constants.MeasureCCS: "Cervical cancer screening",
	constants.MeasureCOL: "Colorectal cancer screening",
	constants.MeasureWCV: "Well-child visit",
}

func describe(measure string) string {
	if d, ok := measureDescriptions[measure]; ok {
		return d
	}
	return measure + " screening"
}

// dueInDays is the intervention window for a gap. Pediatric visits get the shorter windows.
func dueInDays(measure string, level models.RiskLevel) int {
	pediatric := measure == constants.MeasureWCV
	switch level {
	case models.RiskHigh:
		if pediatric {
			return 3
		}
		return 7
	case models.RiskMedium:
		if pediatric {
			return 30
		}
		return 45
	default:
		if pediatric {
			return 60
		}
		return 90
	}
}

func buildGap(rec models.RiskRecord, measure string, prediction models.RiskPrediction, now time.Time) models.CareGap {
	return models.CareGap{
		ID:                  careGapID(rec.MessageID, measure),
		MemberID:            rec.MemberID,
		MeasureCode:         measure,
		RiskLevel:           prediction.Level,
		RiskProbability:     prediction.Probability,
		Priority:            models.PriorityFor(prediction.Level),
		Status:              GapStatusOpen,
		CreatedAt:           now,
		InterventionDueDate: now.AddDate(0, 0, dueInDays(measure, prediction.Level)),
		CarePlanID:          carePlanID(rec.MessageID),
		RiskAssessmentID:    riskAssessmentID(rec.MessageID, measure),
	}
}

func buildResources(rec models.RiskRecord, gaps []models.CareGap) []models.FHIRResource {
	patient := models.FHIRResource{ResourceType: "Patient", ID: patientID(rec.MemberID)}
	subject := &models.FHIRReference{Reference: patient.Reference()}

	resources := []models.FHIRResource{patient}
	activities := make([]models.FHIRActivity, 0, len(gaps))

	for _, gap := range gaps {
		resources = append(resources, models.FHIRResource{
			ResourceType: "RiskAssessment",
			ID:           gap.RiskAssessmentID,
			Status:       "final",
			Subject:      subject,
			Prediction: []models.FHIRPrediction{{
				Outcome:         "Non-completion of " + describe(gap.MeasureCode),
				Probability:     gap.RiskProbability,
				QualitativeRisk: strings.ToLower(string(gap.RiskLevel)),
			}},
		})

		due := gap.InterventionDueDate.Format(dateLayout)
		activities = append(activities, models.FHIRActivity{
			Code:        gap.MeasureCode,
			Description: describe(gap.MeasureCode),
			Status:      "not-started",
			Scheduled:   due,
		})
		if gap.RiskLevel == models.RiskHigh {
			activities = append(activities, models.FHIRActivity{
				Code:        ActivityOutreach,
				Description: "Care coordinator outreach for " + describe(gap.MeasureCode),
				Status:      "scheduled",
				Scheduled:   due,
			})
		}
	}

	status := "active"
	if len(gaps) == 0 {
		status = "completed"
	}

	resources = append(resources, models.FHIRResource{
		ResourceType: "CarePlan",
		ID:           carePlanID(rec.MessageID),
		Status:       status,
		Intent:       "plan",
		Title:        "Care gap closure plan",
		Subject:      subject,
		Activity:     activities,
	})

	return resources
}

// BuildAlert returns the high-risk alert for plan, or false when nothing is high risk.
func BuildAlert(plan models.CarePlanRecord) (models.CareAlert, bool) {
	if !plan.HasHighRisk() {
		return models.CareAlert{}, false
	}
	return models.CareAlert{
		AlertID:          alertID(plan.MessageID),
		AlertType:        constants.AlertTypeHighRiskCareGap,
		MessageID:        plan.MessageID,
		MemberID:         plan.MemberID,
		CarePlanID:       carePlanID(plan.MessageID),
		HighRiskMeasures: append([]string(nil), plan.HighRiskMeasures...),
		Priority:         plan.Priority,
		CreatedAt:        plan.ProcessingTimestamp,
	}, true
}
