package planning

import (
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes every derived id, so replaying a message yields the same gap and resource ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:carepipe:planning"))

func deriveID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}

func careGapID(messageID, measure string) string {
	return deriveID(messageID, "care-gap", measure)
}

func riskAssessmentID(messageID, measure string) string {
	return deriveID(messageID, "risk-assessment", measure)
}

func carePlanID(messageID string) string {
	return deriveID(messageID, "care-plan")
}

func patientID(memberID string) string {
	return deriveID("patient", memberID)
}

func alertID(messageID string) string {
	return deriveID(messageID, "alert")
}
