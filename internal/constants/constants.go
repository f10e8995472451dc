package constants

import "time"

// Exchanges.
const (
	ClinicalExchange  = "clinical.exchange"
	EvidenceExchange  = "evidence.exchange"
	ScoringExchange   = "scoring.exchange"
	DashboardExchange = "dashboard.exchange"
)

// Queues.
const (
	ClinicalMessagesQueue  = "clinical.messages"
	ClinicalProcessedQueue = "clinical.processed"
	RiskScoresQueue        = "risk.scores"
	CareGapsQueue          = "care.gaps"
	CareAlertsQueue        = "care.alerts"
)

// Routing keys.
const (
	ClinicalMessageKey   = "clinical.message"
	ClinicalProcessedKey = "clinical.processed"
	RiskCalculatedKey    = "risk.calculated"
	CareGapCreatedKey    = "care.gap.created"
	CareAlertHighKey     = "care.alert.high"
)

const (
	ExchangeKindTopic = "topic"
	DefaultPrefetch   = 1
)

// Stage names as they appear in logs, metrics and FAILED(stage, reason).
const (
	StageExtraction = "extraction"
	StageScoring    = "scoring"
	StagePlanning   = "planning"
	StagePublish    = "publish"
)

// Service names used for direct calls, health output and tracing.
const (
	ServiceExtraction = "extraction-service"
	ServiceScoring    = "scoring-service"
	ServicePlanning   = "planning-service"
	ServicePipeline   = "pipeline-service"
)

// Direct-call operations.
const (
	OperationProcess     = "process"
	OperationPredict     = "predict"
	OperationOrchestrate = "orchestrate"
)

const (
	DefaultCallTimeout  = 30 * time.Second
	DefaultReplyTimeout = 30 * time.Second
	ShutdownTimeout     = 5 * time.Second
	HealthCheckTimeout  = 5 * time.Second
)

// Canonical measure codes.
const (
	MeasureCCS = "CCS"
	MeasureCOL = "COL"
	MeasureWCV = "WCV"
)

const (
	CacheKeyPrefixCarePlan = "careplan:"
	CacheKeyAlerts         = "care:alerts"
	DefaultTTLSeconds      = 7 * 24 * 3600
	MaxStoredAlerts        = 1000
)

const (
	AlertTypeHighRiskCareGap = "HIGH_RISK_CARE_GAP"
	DefaultModelVersion      = "logistic-v1"
)

const (
	BrokerTypeRabbitMQ = "rabbitmq"
	BrokerTypeMemory   = "memory"
)
