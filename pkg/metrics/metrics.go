package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StageMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_messages_total",
			Help: "Total number of records processed per stage (count)",
		},
		[]string{"stage", "status"},
	)

	StageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_processing_duration_ms",
			Help:    "Stage logic duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"stage"},
	)

	BrokerMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of envelopes published to the broker (count)",
		},
		[]string{"exchange", "routing_key", "status"},
	)

	BrokerMessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total number of deliveries settled by consumers (count)",
		},
		[]string{"queue", "disposition"},
	)

	BrokerMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_message_size_bytes",
			Help:    "Size of envelope bodies in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"direction"},
	)

	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_connected",
			Help: "Whether the broker connection is up (1) or down (0)",
		},
	)

	StageRouteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_route_total",
			Help: "Stage calls per transport route (count)",
		},
		[]string{"stage", "route", "status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times a stage call fell back to a direct call (count)",
		},
		[]string{"stage", "reason"},
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by final state (count)",
		},
		[]string{"state"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_duration_ms",
			Help:    "End-to-end pipeline duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"state"},
	)

	DirectCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "direct_call_duration_ms",
			Help:    "Duration of direct stage calls in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"service", "operation", "status"},
	)

	CareGapsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_gaps_created_total",
			Help: "Care gaps created by measure and priority (count)",
		},
		[]string{"measure", "priority"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Care-plan store operations (count)",
		},
		[]string{"backend", "operation", "status"},
	)
)

func RegisterStageMetrics() {
	prometheus.MustRegister(StageMessagesTotal, StageProcessingDuration, CareGapsCreatedTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		BrokerMessagesPublishedTotal,
		BrokerMessagesConsumedTotal,
		BrokerMessageSizeBytes,
		BrokerConnected,
	)
}

func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		StageRouteTotal,
		FallbackUsageTotal,
		PipelineRunsTotal,
		PipelineDuration,
		DirectCallDuration,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures)
}

func RegisterHTTPMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterStoreMetrics() {
	prometheus.MustRegister(StoreOperationsTotal)
}

func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func ObserveStage(stage string, start time.Time, err error) {
	StageMessagesTotal.WithLabelValues(stage, StatusLabel(err)).Inc()
	StageProcessingDuration.WithLabelValues(stage).Observe(sinceMillis(start))
}

func ObservePublish(exchange, routingKey string, size int, err error) {
	BrokerMessagesPublishedTotal.WithLabelValues(exchange, routingKey, StatusLabel(err)).Inc()
	if err == nil {
		BrokerMessageSizeBytes.WithLabelValues("out").Observe(float64(size))
	}
}

func ObserveDelivery(queue, disposition string, size int) {
	BrokerMessagesConsumedTotal.WithLabelValues(queue, disposition).Inc()
	BrokerMessageSizeBytes.WithLabelValues("in").Observe(float64(size))
}

func ObserveDirectCall(service, operation string, start time.Time, err error) {
	DirectCallDuration.WithLabelValues(service, operation, StatusLabel(err)).Observe(sinceMillis(start))
}

func ObservePipeline(state string, start time.Time) {
	PipelineRunsTotal.WithLabelValues(state).Inc()
	PipelineDuration.WithLabelValues(state).Observe(sinceMillis(start))
}

func sinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
