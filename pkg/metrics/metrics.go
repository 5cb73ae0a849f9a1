package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all refund-processor metrics
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// Reconciliation metrics
	OrdersReconciled      *prometheus.CounterVec
	OrderDuration         prometheus.Histogram
	QueueEntriesProcessed *prometheus.CounterVec
	ReturnsSubmitted      prometheus.Counter
	RefundsSubmitted      prometheus.Counter
	RefundAmount          prometheus.Counter
	ReturnsClosed         *prometheus.CounterVec
	UnallocatedQuantity   *prometheus.CounterVec

	// Platform metrics
	PlatformRequests        *prometheus.CounterVec
	PlatformRequestDuration *prometheus.HistogramVec
	PlatformFailures        *prometheus.CounterVec

	// Infrastructure metrics
	MongoDBOperations    *prometheus.CounterVec
	KafkaEventsPublished *prometheus.CounterVec
	OutboxPending        prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
	LastRunTimestamp     prometheus.Gauge
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "returns",
	}
}

// New creates a new Metrics instance
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}
	ns := config.Namespace
	constLabels := prometheus.Labels{"service": config.ServiceName}

	m.OrdersReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "orders_reconciled_total",
			Help:        "Sales orders processed, by outcome",
			ConstLabels: constLabels,
		},
		[]string{"status", "error_code"},
	)

	m.OrderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "order_duration_seconds",
			Help:        "Time spent reconciling one sales order",
			Buckets:     []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		},
	)

	m.QueueEntriesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "queue_entries_total",
			Help:        "Queue entries marked processed or failed",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)

	m.ReturnsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "returns_submitted_total",
		Help:        "Return requests submitted to the order platform",
		ConstLabels: constLabels,
	})

	m.RefundsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "refunds_submitted_total",
		Help:        "Refund requests submitted to the order platform",
		ConstLabels: constLabels,
	})

	m.RefundAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "refund_amount_total",
		Help:        "Sum of submitted refund amounts (currency-agnostic)",
		ConstLabels: constLabels,
	})

	m.ReturnsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "returns_closed_total",
			Help:        "Close requests issued for open returns",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)

	m.UnallocatedQuantity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "unallocated_quantity_total",
			Help:        "Requested return quantity no fulfillment could absorb",
			ConstLabels: constLabels,
		},
		[]string{"sku"},
	)

	m.PlatformRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "platform_requests_total",
			Help:        "Calls to the order-management platform",
			ConstLabels: constLabels,
		},
		[]string{"operation", "status"},
	)

	m.PlatformRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "platform_request_duration_seconds",
			Help:        "Order platform call latency",
			Buckets:     []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	m.PlatformFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "platform_failures_total",
			Help:        "Platform failures by call category and the policy applied",
			ConstLabels: constLabels,
		},
		[]string{"operation", "policy"},
	)

	m.MongoDBOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "mongodb_operations_total",
			Help:        "Total number of MongoDB operations",
			ConstLabels: constLabels,
		},
		[]string{"collection", "operation", "status"},
	)

	m.KafkaEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "kafka_events_published_total",
			Help:        "Total number of Kafka events published",
			ConstLabels: constLabels,
		},
		[]string{"topic", "event_type", "status"},
	)

	m.OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "outbox_pending_events",
		Help:        "Outbox events waiting for publication at the last drain",
		ConstLabels: constLabels,
	})

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "circuit_breaker_state",
			Help:        "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			ConstLabels: constLabels,
		},
		[]string{"name"},
	)

	m.LastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "last_run_timestamp_seconds",
		Help:        "Unix time the last run finished",
		ConstLabels: constLabels,
	})

	registry.MustRegister(
		m.OrdersReconciled,
		m.OrderDuration,
		m.QueueEntriesProcessed,
		m.ReturnsSubmitted,
		m.RefundsSubmitted,
		m.RefundAmount,
		m.ReturnsClosed,
		m.UnallocatedQuantity,
		m.PlatformRequests,
		m.PlatformRequestDuration,
		m.PlatformFailures,
		m.MongoDBOperations,
		m.KafkaEventsPublished,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.LastRunTimestamp,
	)

	return m
}

// Push sends the registry to a Prometheus Pushgateway. Batch jobs do not live long
// enough to be scraped.
func (m *Metrics) Push(ctx context.Context, gatewayURL string) error {
	m.LastRunTimestamp.SetToCurrentTime()
	return push.New(gatewayURL, m.serviceName).
		Gatherer(m.registry).
		PushContext(ctx)
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordOrderReconciled records the outcome of one sales order
func (m *Metrics) RecordOrderReconciled(success bool, errorCode string, entries int, duration time.Duration) {
	m.OrdersReconciled.WithLabelValues(status(success), errorCode).Inc()
	m.OrderDuration.Observe(duration.Seconds())
	if success {
		m.QueueEntriesProcessed.WithLabelValues("processed").Add(float64(entries))
	} else {
		m.QueueEntriesProcessed.WithLabelValues("failed").Add(float64(entries))
	}
}

// RecordReturnSubmitted counts a submitted return request
func (m *Metrics) RecordReturnSubmitted() {
	m.ReturnsSubmitted.Inc()
}

// RecordRefundSubmitted counts a submitted refund and its amount
func (m *Metrics) RecordRefundSubmitted(amount float64) {
	m.RefundsSubmitted.Inc()
	m.RefundAmount.Add(amount)
}

// RecordReturnClosed counts a close request
func (m *Metrics) RecordReturnClosed(success bool) {
	m.ReturnsClosed.WithLabelValues(status(success)).Inc()
}

// RecordUnallocated counts quantity dropped by the allocator
func (m *Metrics) RecordUnallocated(sku string, quantity int) {
	m.UnallocatedQuantity.WithLabelValues(sku).Add(float64(quantity))
}

// RecordPlatformRequest records an order platform call
func (m *Metrics) RecordPlatformRequest(operation string, success bool, duration time.Duration) {
	m.PlatformRequests.WithLabelValues(operation, status(success)).Inc()
	m.PlatformRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPlatformFailure records a failure and the policy that handled it
func (m *Metrics) RecordPlatformFailure(operation, policy string) {
	m.PlatformFailures.WithLabelValues(operation, policy).Inc()
}

// RecordMongoDBOperation records a MongoDB operation
func (m *Metrics) RecordMongoDBOperation(collection, operation string, success bool) {
	m.MongoDBOperations.WithLabelValues(collection, operation, status(success)).Inc()
}

// RecordKafkaPublish records a Kafka publish event
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool) {
	m.KafkaEventsPublished.WithLabelValues(topic, eventType, status(success)).Inc()
}

// SetOutboxPending sets the number of pending outbox events
func (m *Metrics) SetOutboxPending(count int) {
	m.OutboxPending.Set(float64(count))
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
