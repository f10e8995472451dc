package store

import (
	"context"
	"sort"

	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
)

// CarePlanStore is the dashboard-facing view of published care plans and high-risk alerts.
// Saving the same plan twice overwrites it, so redelivered messages are harmless.
type CarePlanStore interface {
	SavePlan(ctx context.Context, plan models.CarePlanRecord) error
	SaveAlert(ctx context.Context, alert models.CareAlert) error
	PlansForMember(ctx context.Context, memberID string) ([]models.CarePlanRecord, error)
	RecentAlerts(ctx context.Context, limit int) ([]models.CareAlert, error)
}

const (
	backendRedis  = "redis"
	backendMemory = "memory"
)

func observe(backend, operation string, err error) {
	metrics.StoreOperationsTotal.WithLabelValues(backend, operation, metrics.StatusLabel(err)).Inc()
}

// sortPlans orders plans newest first.
func sortPlans(plans []models.CarePlanRecord) {
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].ProcessingTimestamp.Equal(plans[j].ProcessingTimestamp) {
			return plans[i].ProcessingTimestamp.After(plans[j].ProcessingTimestamp)
		}
		return plans[i].MessageID < plans[j].MessageID
	})
}
