package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"carepipe/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "30s")
	viper.SetDefault("server.write_timeout_seconds", "30s")

	viper.SetDefault("broker.type", constants.BrokerTypeRabbitMQ)
	viper.SetDefault("broker.rabbitmq.host", "localhost")
	viper.SetDefault("broker.rabbitmq.port", 5672)
	viper.SetDefault("broker.rabbitmq.user", "guest")
	viper.SetDefault("broker.rabbitmq.password", "guest")
	viper.SetDefault("broker.rabbitmq.vhost", "/")
	viper.SetDefault("broker.rabbitmq.prefetch", constants.DefaultPrefetch)
	viper.SetDefault("broker.rabbitmq.reply_timeout", constants.DefaultReplyTimeout.String())
	viper.SetDefault("broker.rabbitmq.connect_retry.max_attempts", 5)
	viper.SetDefault("broker.rabbitmq.connect_retry.initial_interval", "1s")
	viper.SetDefault("broker.rabbitmq.connect_retry.max_interval", "10s")
	viper.SetDefault("broker.rabbitmq.connect_retry.multiplier", 2.0)

	viper.SetDefault("pipeline.call_timeout", constants.DefaultCallTimeout.String())
	viper.SetDefault("pipeline.publish_fallback_store", true)

	viper.SetDefault("scoring.model_version", constants.DefaultModelVersion)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func bindEnvVariables() {
	viper.BindEnv("service.name", "SERVICE_NAME")

	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.rabbitmq.host", "BROKER_RABBITMQ_HOST")
	viper.BindEnv("broker.rabbitmq.port", "BROKER_RABBITMQ_PORT")
	viper.BindEnv("broker.rabbitmq.user", "BROKER_RABBITMQ_USER")
	viper.BindEnv("broker.rabbitmq.password", "BROKER_RABBITMQ_PASSWORD")
	viper.BindEnv("broker.rabbitmq.vhost", "BROKER_RABBITMQ_VHOST")

	viper.BindEnv("services.extraction.base_url", "SERVICES_EXTRACTION_BASE_URL")
	viper.BindEnv("services.scoring.base_url", "SERVICES_SCORING_BASE_URL")
	viper.BindEnv("services.planning.base_url", "SERVICES_PLANNING_BASE_URL")

	viper.BindEnv("pipeline.call_timeout", "PIPELINE_CALL_TIMEOUT")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides fills values that have no sensible file default.
func applyEnvOverrides(cfg *Config) {
	if cfg.Scoring.ModelVersion == "" {
		cfg.Scoring.ModelVersion = constants.DefaultModelVersion
	}

	if len(cfg.Scoring.Eligibility) == 0 {
		cfg.Scoring.Eligibility = DefaultEligibility()
	}

	for i := range cfg.Scoring.Eligibility {
		cfg.Scoring.Eligibility[i].Measure = strings.ToUpper(strings.TrimSpace(cfg.Scoring.Eligibility[i].Measure))
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.Service.Name
	}
}

// DefaultEligibility holds the age bands used when the file defines none.
func DefaultEligibility() []EligibilityRule {
	return []EligibilityRule{
		{Measure: constants.MeasureCCS, Expression: "age >= 24 && age <= 64"},
		{Measure: constants.MeasureWCV, Expression: "age < 18"},
	}
}
