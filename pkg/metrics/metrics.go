package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_messages_processed_total",
			Help: "Total number of messages handled per queue (count)",
		},
		[]string{"queue", "status"},
	)

	MessageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_message_processing_duration_ms",
			Help:    "Processing duration per queue in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"queue", "status"},
	)

	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_routing_decisions_total",
			Help: "Total number of backend routing decisions by source (count)",
		},
		[]string{"domain", "source"},
	)

	RoutingActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connector_routing_active_rules",
			Help: "Number of active routing rules per business domain (count)",
		},
		[]string{"domain"},
	)

	RoutingRuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_routing_rule_evaluations_total",
			Help: "Total number of routing rule evaluations (count)",
		},
		[]string{"rule_id", "result"},
	)

	EvidencesRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_evidences_recorded_total",
			Help: "Total number of evidences accepted on messages (count)",
		},
		[]string{"type"},
	)

	EvidencesSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_evidences_suppressed_total",
			Help: "Total number of evidences refused by the lifecycle (count)",
		},
		[]string{"type", "code"},
	)

	EvidenceTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_evidence_timeouts_total",
			Help: "Total number of evidence timeouts by kind and outcome (count)",
		},
		[]string{"kind", "outcome"},
	)

	TransportAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_transport_attempts_total",
			Help: "Total number of transport status updates by partner and state (count)",
		},
		[]string{"partner", "state"},
	)

	TransportDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_transport_dispatch_duration_ms",
			Help:    "Duration of link submissions in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"partner"},
	)

	LinkPartnersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connector_link_partners_active",
			Help: "Number of active link partners by link type (count)",
		},
		[]string{"link_type"},
	)

	LinkPullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_link_pulls_total",
			Help: "Total number of pull runs per partner (count)",
		},
		[]string{"partner", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
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

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var registerOnce sync.Once

// RegisterConnectorMetrics registers every collector with the default registry.
// Safe to call more than once.
func RegisterConnectorMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesProcessedTotal,
			MessageProcessingDuration,
			RoutingDecisionsTotal,
			RoutingActiveRules,
			RoutingRuleEvaluationsTotal,
			EvidencesRecordedTotal,
			EvidencesSuppressedTotal,
			EvidenceTimeoutsTotal,
			TransportAttemptsTotal,
			TransportDispatchDuration,
			LinkPartnersActive,
			LinkPullsTotal,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
		)
		registerBrokerMetrics()
		registerCircuitBreakerMetrics()
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func registerBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaWriteDuration)
}

func registerCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveProcessingDuration(queue, status string, duration time.Duration) {
	MessagesProcessedTotal.WithLabelValues(queue, status).Inc()
	MessageProcessingDuration.WithLabelValues(queue, status).Observe(float64(duration.Milliseconds()))
}

func IncRoutingDecision(domain, source string) {
	RoutingDecisionsTotal.WithLabelValues(domain, source).Inc()
}

func SetRoutingActiveRules(domain string, count int) {
	RoutingActiveRules.WithLabelValues(domain).Set(float64(count))
}

func IncRoutingRuleEvaluation(ruleID, result string) {
	RoutingRuleEvaluationsTotal.WithLabelValues(ruleID, result).Inc()
}

func IncEvidenceRecorded(evidenceType string) {
	EvidencesRecordedTotal.WithLabelValues(evidenceType).Inc()
}

func IncEvidenceSuppressed(evidenceType, code string) {
	EvidencesSuppressedTotal.WithLabelValues(evidenceType, code).Inc()
}

func IncEvidenceTimeout(kind, outcome string) {
	EvidenceTimeoutsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncTransportAttempt(partner, state string) {
	TransportAttemptsTotal.WithLabelValues(partner, state).Inc()
}

func ObserveTransportDispatch(partner string, duration time.Duration) {
	TransportDispatchDuration.WithLabelValues(partner).Observe(float64(duration.Milliseconds()))
}

func SetLinkPartnersActive(linkType string, count int) {
	LinkPartnersActive.WithLabelValues(linkType).Set(float64(count))
}

func IncLinkPull(partner, status string) {
	LinkPullsTotal.WithLabelValues(partner, status).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
