package scoring

import (
	"context"
	"hash/fnv"
	"math/rand"

	"carepipe/pkg/models"
)

// Features is the member profile fed to the risk models.
type Features struct {
	Age                   int  `json:"age"`
	PCPVisits             int  `json:"pcp_visits"`
	MonthsWithoutPCPVisit int  `json:"months_without_pcp_visit"`
	ChronicConditions     int  `json:"chronic_conditions"`
	EDVisits              int  `json:"ed_visits"`
	Immunizations         int  `json:"immunizations"`
	PriorScreenings       int  `json:"prior_screenings"`
	OutreachResponses     int  `json:"outreach_responses"`
	HasPCPAssigned        bool `json:"has_pcp_assigned"`
}

type FeatureSource interface {
	Features(ctx context.Context, rec models.EvidenceRecord) (Features, error)
}

// SyntheticFeatures derives a stable profile from the member id. The same member always gets the
// same features, so repeated runs score identically.
type SyntheticFeatures struct{}

func (SyntheticFeatures) Features(ctx context.Context, rec models.EvidenceRecord) (Features, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rec.MemberID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	f := Features{
		Age:                   18 + rng.Intn(62),
		PCPVisits:             rng.Intn(12),
		MonthsWithoutPCPVisit: rng.Intn(12),
		ChronicConditions:     rng.Intn(5),
		EDVisits:              rng.Intn(10),
		Immunizations:         rng.Intn(5),
		PriorScreenings:       rng.Intn(3),
		OutreachResponses:     rng.Intn(4),
		HasPCPAssigned:        rng.Intn(2) == 1,
	}

	// Documented screening evidence implies recent primary care contact.
	if rec.EvidenceFound {
		if f.PCPVisits < 2 {
			f.PCPVisits = 2
		}
		if f.MonthsWithoutPCPVisit > 3 {
			f.MonthsWithoutPCPVisit = 3
		}
		f.PriorScreenings += len(rec.MeasuresDetected)
	}

	return f, nil
}
