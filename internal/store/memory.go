package store

import (
	"context"
	"sync"

	"carepipe/internal/constants"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

// MemoryStore is the process-local store used when no Redis is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	plans  map[string]map[string]models.CarePlanRecord
	alerts []models.CareAlert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]map[string]models.CarePlanRecord)}
}

func (s *MemoryStore) SavePlan(ctx context.Context, plan models.CarePlanRecord) error {
	if plan.MemberID == "" {
		err := errors.ErrValidation.WithMessage("care plan has no member id")
		observe(backendMemory, "save_plan", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plans[plan.MemberID] == nil {
		s.plans[plan.MemberID] = make(map[string]models.CarePlanRecord)
	}
	s.plans[plan.MemberID][plan.MessageID] = plan
	observe(backendMemory, "save_plan", nil)
	return nil
}

// SaveAlert keeps the newest alerts first, capped like the Redis list.
func (s *MemoryStore) SaveAlert(ctx context.Context, alert models.CareAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append([]models.CareAlert{alert}, s.alerts...)
	if len(s.alerts) > constants.MaxStoredAlerts {
		s.alerts = s.alerts[:constants.MaxStoredAlerts]
	}
	observe(backendMemory, "save_alert", nil)
	return nil
}

func (s *MemoryStore) PlansForMember(ctx context.Context, memberID string) ([]models.CarePlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]models.CarePlanRecord, 0, len(s.plans[memberID]))
	for _, plan := range s.plans[memberID] {
		plans = append(plans, plan)
	}
	sortPlans(plans)
	observe(backendMemory, "plans_for_member", nil)
	return plans, nil
}

func (s *MemoryStore) RecentAlerts(ctx context.Context, limit int) ([]models.CareAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.alerts) {
		limit = len(s.alerts)
	}
	out := make([]models.CareAlert, limit)
	copy(out, s.alerts[:limit])
	observe(backendMemory, "recent_alerts", nil)
	return out, nil
}
