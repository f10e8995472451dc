package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Service   string                 `json:"service"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type registered struct {
	checker  Checker
	critical bool
}

// CheckerRegistry aggregates dependency checks. A failing critical checker makes the service
// unhealthy; a failing optional one only degrades it.
type CheckerRegistry struct {
	service  string
	mu       sync.RWMutex
	checkers []registered
	now      func() time.Time
}

func NewCheckerRegistry(service string) *CheckerRegistry {
	return &CheckerRegistry{
		service: service,
		now:     time.Now,
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.add(checker, true)
}

// RegisterOptional registers a dependency the service can run without, such as the broker when a
// direct-call surface is available.
func (r *CheckerRegistry) RegisterOptional(checker Checker) {
	r.add(checker, false)
}

func (r *CheckerRegistry) add(checker Checker, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, registered{checker: checker, critical: critical})
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	r.mu.RLock()
	checkers := append([]registered(nil), r.checkers...)
	r.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	overall := StatusHealthy

	for _, c := range checkers {
		result := CheckResult{Status: StatusHealthy, Timestamp: r.now().UTC()}

		if err := c.checker.Check(ctx); err != nil {
			result.Message = err.Error()
			if c.critical {
				result.Status = StatusUnhealthy
				overall = StatusUnhealthy
			} else {
				result.Status = StatusDegraded
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			}
		}

		results[c.checker.Name()] = result
	}

	return Health{
		Status:    overall,
		Service:   r.service,
		Timestamp: r.now().UTC(),
		Checks:    results,
	}
}

// FuncChecker adapts a plain function, e.g. a transport's health flag.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) Check(ctx context.Context) error {
	return c.fn(ctx)
}

type BrokerChecker struct {
	transport interface{ Healthy() bool }
}

func NewBrokerChecker(transport interface{ Healthy() bool }) *BrokerChecker {
	return &BrokerChecker{transport: transport}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) error {
	if c.transport == nil || !c.transport.Healthy() {
		return fmt.Errorf("broker connection is down")
	}
	return nil
}

type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
