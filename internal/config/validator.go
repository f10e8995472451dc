package config

import (
	"fmt"
	"net/url"
	"strings"

	"carepipe/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateServices(c.Services) },
		func(c *Config) error { return validatePipeline(c.Pipeline) },
		func(c *Config) error { return validateScoring(c.Scoring) },
		func(c *Config) error { return validateRedis(c.Database.Redis) },
		func(c *Config) error { return validateRateLimit(c.RateLimit) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case constants.BrokerTypeRabbitMQ:
		return validateRabbitMQ(cfg.RabbitMQ)
	case constants.BrokerTypeMemory:
		return nil
	case "":
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: rabbitmq, memory)", cfg.Type),
		}
	}
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "broker.rabbitmq.host",
			Message: "RabbitMQ host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "broker.rabbitmq.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.Prefetch != constants.DefaultPrefetch {
		return &ValidationError{
			Field:   "broker.rabbitmq.prefetch",
			Message: fmt.Sprintf("stage consumers process one delivery at a time, prefetch must be 1, got %d", cfg.Prefetch),
		}
	}

	if cfg.ReplyTimeout < 0 {
		return &ValidationError{
			Field:   "broker.rabbitmq.reply_timeout",
			Message: "reply timeout must be non-negative",
		}
	}

	retry := cfg.ConnectRetry
	if retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.rabbitmq.connect_retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if retry.MaxInterval > 0 && retry.InitialInterval > 0 && retry.MaxInterval < retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.rabbitmq.connect_retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if retry.MaxAttempts > 0 && retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.rabbitmq.connect_retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateServices(cfg ServicesConfig) error {
	endpoints := map[string]string{
		"services.extraction.base_url": cfg.Extraction.BaseURL,
		"services.scoring.base_url":    cfg.Scoring.BaseURL,
		"services.planning.base_url":   cfg.Planning.BaseURL,
	}

	for field, raw := range endpoints {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid base URL %q (expected http(s)://host[:port])", raw),
			}
		}
	}

	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.CallTimeout < 0 {
		return &ValidationError{
			Field:   "pipeline.call_timeout",
			Message: "call timeout must be non-negative",
		}
	}
	return nil
}

func validateScoring(cfg ScoringConfig) error {
	seen := make(map[string]bool, len(cfg.Eligibility))
	for i, rule := range cfg.Eligibility {
		if rule.Measure == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("scoring.eligibility[%d].measure", i),
				Message: "measure code is required",
			}
		}
		if strings.TrimSpace(rule.Expression) == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("scoring.eligibility[%d].expression", i),
				Message: "eligibility expression is required",
			}
		}
		if seen[rule.Measure] {
			return &ValidationError{
				Field:   fmt.Sprintf("scoring.eligibility[%d].measure", i),
				Message: fmt.Sprintf("duplicate eligibility rule for %s", rule.Measure),
			}
		}
		seen[rule.Measure] = true
	}
	return nil
}

func validateRedis(cfg RedisConfig) error {
	if !cfg.Enabled() && cfg.Port == 0 {
		return nil
	}

	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "database.redis.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.RPS <= 0 {
		return &ValidationError{
			Field:   "rate_limit.rps",
			Message: "rps must be positive when rate limiting is enabled",
		}
	}

	if cfg.Burst < 1 {
		return &ValidationError{
			Field:   "rate_limit.burst",
			Message: "burst must be at least 1",
		}
	}

	return nil
}
