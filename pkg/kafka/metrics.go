package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "reli"

var (
	consumerLabels = []string{"topic", "consumer_group"}
	producerLabels = []string{"topic"}
)

// Consumer side.
var (
	ConsumerMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_consumer",
		Name:      "messages_received_total",
		Help:      "Messages fetched from the broker, before handling.",
	}, consumerLabels)

	ConsumerMessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_consumer",
		Name:      "messages_processed_total",
		Help:      "Messages whose handler succeeded.",
	}, consumerLabels)

	ConsumerMessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_consumer",
		Name:      "messages_failed_total",
		Help:      "Messages whose handler still failed after the last retry.",
	}, consumerLabels)

	ConsumerDLQPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_consumer",
		Name:      "dlq_published_total",
		Help:      "Messages copied to a dead-letter topic.",
	}, consumerLabels)

	ConsumerProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_consumer",
		Name:      "processing_duration_seconds",
		Help:      "Handler time per message, retries included.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30},
	}, consumerLabels)

	// ConsumerMessagesDuplicate is labeled by event type since the idempotency
	// guard does not know which topic or group it runs in.
	ConsumerMessagesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_consumer",
		Name:      "messages_duplicate_total",
		Help:      "Events skipped because their id was already handled.",
	}, []string{"event_type"})
)

// Producer side.
var (
	ProducerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_producer",
		Name:      "messages_published_total",
		Help:      "Messages written to the broker.",
	}, producerLabels)

	ProducerPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_producer",
		Name:      "publish_errors_total",
		Help:      "Failed publish attempts, marshaling errors included.",
	}, producerLabels)

	ProducerPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "kafka_producer",
		Name:      "publish_duration_seconds",
		Help:      "Time spent in a single publish call.",
		Buckets:   prometheus.DefBuckets,
	}, producerLabels)
)
