package broker

import (
	"fmt"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
)

func NewTransport(cfg config.BrokerConfig, log logger.Logger) (Transport, error) {
	switch cfg.Type {
	case constants.BrokerTypeRabbitMQ:
		return NewRabbitMQTransport(cfg.RabbitMQ, log), nil
	case constants.BrokerTypeMemory:
		return NewMemoryTransport(log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
