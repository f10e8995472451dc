package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"carepipe/internal/constants"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

// RedisStore keeps one hash per member (field = message id) and a capped list of alerts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds * time.Second
	}
	return &RedisStore{client: client, ttl: ttl}
}

func planKey(memberID string) string {
	return constants.CacheKeyPrefixCarePlan + memberID
}

func (s *RedisStore) SavePlan(ctx context.Context, plan models.CarePlanRecord) (err error) {
	defer func() { observe(backendRedis, "save_plan", err) }()

	if plan.MemberID == "" {
		return errors.ErrValidation.WithMessage("care plan has no member id")
	}

	value, err := codec.Marshal(plan)
	if err != nil {
		return errors.ErrInternal.WithMessage("failed to encode care plan").WithCause(err)
	}

	key := planKey(plan.MemberID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, plan.MessageID, value)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return errors.ErrServiceUnavailable.WithMessage("redis save of care plan failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) SaveAlert(ctx context.Context, alert models.CareAlert) (err error) {
	defer func() { observe(backendRedis, "save_alert", err) }()

	value, err := codec.Marshal(alert)
	if err != nil {
		return errors.ErrInternal.WithMessage("failed to encode alert").WithCause(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, constants.CacheKeyAlerts, value)
		pipe.LTrim(ctx, constants.CacheKeyAlerts, 0, constants.MaxStoredAlerts-1)
		return nil
	})
	if err != nil {
		return errors.ErrServiceUnavailable.WithMessage("redis save of alert failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) PlansForMember(ctx context.Context, memberID string) (plans []models.CarePlanRecord, err error) {
	defer func() { observe(backendRedis, "plans_for_member", err) }()

	values, err := s.client.HGetAll(ctx, planKey(memberID)).Result()
	if err != nil {
		return nil, errors.ErrServiceUnavailable.WithMessage("redis read of care plans failed").WithCause(err)
	}

	plans = make([]models.CarePlanRecord, 0, len(values))
	for _, v := range values {
		var plan models.CarePlanRecord
		if err := codec.Unmarshal([]byte(v), &plan); err != nil {
			return nil, errors.ErrDecode.WithMessage("stored care plan is not valid JSON").WithCause(err)
		}
		plans = append(plans, plan)
	}
	sortPlans(plans)
	return plans, nil
}

func (s *RedisStore) RecentAlerts(ctx context.Context, limit int) (alerts []models.CareAlert, err error) {
	defer func() { observe(backendRedis, "recent_alerts", err) }()

	if limit <= 0 || limit > constants.MaxStoredAlerts {
		limit = constants.MaxStoredAlerts
	}

	values, err := s.client.LRange(ctx, constants.CacheKeyAlerts, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.ErrServiceUnavailable.WithMessage("redis read of alerts failed").WithCause(err)
	}

	alerts = make([]models.CareAlert, 0, len(values))
	for _, v := range values {
		var alert models.CareAlert
		if err := codec.Unmarshal([]byte(v), &alert); err != nil {
			return nil, errors.ErrDecode.WithMessage("stored alert is not valid JSON").WithCause(err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
