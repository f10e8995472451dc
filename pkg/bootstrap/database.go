package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/internal/store"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitRedis returns nil, nil when no Redis host is configured.
func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	cfg := dc.Config.Database.Redis
	if !cfg.Enabled() {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "Redis connected successfully", "addr", rdb.Options().Addr)
	return rdb, nil
}

// Store picks the care-plan store: Redis when a client is given, process memory otherwise.
func (dc *DatabaseConnector) Store(rdb *redis.Client) store.CarePlanStore {
	if rdb == nil {
		dc.Logger.Warn("Redis not configured, care plans are kept in memory")
		return store.NewMemoryStore()
	}
	ttl := dc.Config.Database.Redis.TTLSeconds
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds
	}
	return store.NewRedisStore(rdb, time.Duration(ttl)*time.Second)
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, rdb *redis.Client) []error {
	if rdb == nil {
		return nil
	}
	if err := rdb.Close(); err != nil {
		return []error{fmt.Errorf("redis close error: %w", err)}
	}
	return nil
}
