package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
	StatusEmpty    = "empty"
)

// Registry holds every collector of the process on its own prometheus
// registry; nothing is registered globally.
type Registry struct {
	registry *prometheus.Registry

	// producer
	sendTotal       *prometheus.CounterVec
	completeTotal   *prometheus.CounterVec
	sendLatency     *prometheus.HistogramVec
	serializedBytes *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	closeTotal      *prometheus.CounterVec
	flushDuration   prometheus.Histogram

	// transport
	bundleTotal    *prometheus.CounterVec
	bundleDuration *prometheus.HistogramVec
	bundleSize     *prometheus.HistogramVec

	// consumer
	consumeTotal     *prometheus.CounterVec
	consumeDuration  *prometheus.HistogramVec
	messagesConsumed *prometheus.CounterVec
	ackTotal         *prometheus.CounterVec

	// controller
	databaseOperationTotal    *prometheus.CounterVec
	databaseOperationDuration *prometheus.HistogramVec

	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a registry with all collectors registered.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		sendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_producer_send_total",
				Help: "Total number of send calls",
			},
			[]string{"topic", "status"}, // status: success (accepted), rejected
		),

		completeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_producer_complete_total",
				Help: "Total number of completed sends",
			},
			[]string{"topic", "status"},
		),

		sendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_producer_send_latency_seconds",
				Help:    "Time from send to completion",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"topic"},
		),

		serializedBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_producer_serialized_bytes",
				Help:    "Serialized size of acknowledged records",
				Buckets: prometheus.ExponentialBuckets(16, 4, 8),
			},
			[]string{"topic", "part"}, // part: key, value
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pub_producer_in_flight",
				Help: "Sends accepted and not yet completed",
			},
		),

		closeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_producer_close_total",
				Help: "Total number of producer closes",
			},
			[]string{"status"},
		),

		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pub_producer_flush_duration_seconds",
				Help:    "Time spent in flush",
				Buckets: prometheus.DefBuckets,
			},
		),

		bundleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_transport_bundle_total",
				Help: "Total number of bundles written by the transport",
			},
			[]string{"topic", "shard", "status"},
		),

		bundleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_transport_bundle_duration_seconds",
				Help:    "Time spent writing a bundle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic", "shard"},
		),

		bundleSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_transport_bundle_size",
				Help:    "Number of messages in written bundles",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"topic", "shard"},
		),

		consumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_consumer_consume_total",
				Help: "Total number of consume operations",
			},
			[]string{"topic", "subscription", "shard", "status"}, // status: success, error, empty
		),

		consumeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_consumer_consume_duration_seconds",
				Help:    "Time spent consuming messages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic", "subscription", "shard"},
		),

		messagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_consumer_messages_consumed_total",
				Help: "Total number of messages consumed",
			},
			[]string{"topic", "subscription", "shard"},
		),

		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_consumer_ack_total",
				Help: "Total number of message acknowledgments",
			},
			[]string{"topic", "subscription", "shard", "status"},
		),

		databaseOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_database_operation_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		databaseOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_database_operation_duration_seconds",
				Help:    "Time spent on database operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.sendTotal,
		r.completeTotal,
		r.sendLatency,
		r.serializedBytes,
		r.inFlight,
		r.closeTotal,
		r.flushDuration,
		r.bundleTotal,
		r.bundleDuration,
		r.bundleSize,
		r.consumeTotal,
		r.consumeDuration,
		r.messagesConsumed,
		r.ackTotal,
		r.databaseOperationTotal,
		r.databaseOperationDuration,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordSend records a send call. A synchronous error counts as rejected and
// does not touch the in-flight gauge.
func (r *Registry) RecordSend(topic string, err error) {
	if err != nil {
		r.sendTotal.WithLabelValues(topic, StatusRejected).Inc()
		return
	}

	r.sendTotal.WithLabelValues(topic, StatusSuccess).Inc()
	r.inFlight.Inc()
}

// RecordSendComplete records the completion of an accepted send.
func (r *Registry) RecordSendComplete(topic string, keySize, valueSize int, latency time.Duration, err error) {
	r.inFlight.Dec()
	r.completeTotal.WithLabelValues(topic, status(err)).Inc()
	r.sendLatency.WithLabelValues(topic).Observe(latency.Seconds())
	if err == nil {
		r.serializedBytes.WithLabelValues(topic, "key").Observe(float64(keySize))
		r.serializedBytes.WithLabelValues(topic, "value").Observe(float64(valueSize))
	}
}

// RecordFlush records a flush call.
func (r *Registry) RecordFlush(duration time.Duration) {
	r.flushDuration.Observe(duration.Seconds())
}

// RecordClose records a producer close.
func (r *Registry) RecordClose(err error) {
	r.closeTotal.WithLabelValues(status(err)).Inc()
}

// RecordBundle records a bundle written by the couchbase transport.
func (r *Registry) RecordBundle(topic string, shard int, size int, duration time.Duration, err error) {
	shardStr := strconv.Itoa(shard)

	r.bundleTotal.WithLabelValues(topic, shardStr, status(err)).Inc()
	r.bundleDuration.WithLabelValues(topic, shardStr).Observe(duration.Seconds())
	if err == nil {
		r.bundleSize.WithLabelValues(topic, shardStr).Observe(float64(size))
	}
}

// RecordConsumerPull records a consumer pull operation
func (r *Registry) RecordConsumerPull(topic, subscription string, shard int, messagesConsumed int, duration time.Duration, err error) {
	shardStr := strconv.Itoa(shard)

	s := status(err)
	if err == nil && messagesConsumed == 0 {
		s = StatusEmpty
	}

	r.consumeTotal.WithLabelValues(topic, subscription, shardStr, s).Inc()
	r.consumeDuration.WithLabelValues(topic, subscription, shardStr).Observe(duration.Seconds())
	if messagesConsumed > 0 {
		r.messagesConsumed.WithLabelValues(topic, subscription, shardStr).Add(float64(messagesConsumed))
	}
}

// RecordConsumerAck records a consumer acknowledgment operation
func (r *Registry) RecordConsumerAck(topic, subscription string, shard int, err error) {
	r.ackTotal.WithLabelValues(topic, subscription, strconv.Itoa(shard), status(err)).Inc()
}

// RecordDatabaseOperation records a database operation
func (r *Registry) RecordDatabaseOperation(operation string, duration time.Duration, err error) {
	r.databaseOperationTotal.WithLabelValues(operation, status(err)).Inc()
	r.databaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}

// DatabaseOperations returns the counter of operation with status.
func (r *Registry) DatabaseOperations(operation, status string) prometheus.Counter {
	return r.databaseOperationTotal.WithLabelValues(operation, status)
}
