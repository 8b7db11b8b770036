// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ideahub"

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type Metrics struct {
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	rateLimitHits *prometheus.CounterVec
	joinRequests  *prometheus.CounterVec
	teamFailures  *prometheus.CounterVec
	messages      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	connections   prometheus.Gauge
	roomsOccupied prometheus.Gauge
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Number of requests or events rejected by a rate limiter",
		}, []string{"scope"}),
		joinRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "team",
			Name:      "join_request_transitions_total",
			Help:      "Join request and roster transitions committed",
		}, []string{"transition"}),
		teamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "team",
			Name:      "operation_failures_total",
			Help:      "Coordinator operations rejected, by operation and error code",
		}, []string{"operation", "code"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages by outcome",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "deliveries_total",
			Help:      "Per-connection fan-out results",
		}, []string{"outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open realtime connections",
		}),
		roomsOccupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "rooms",
			Help:      "Rooms with at least one subscribed connection",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.httpRequests, m.httpLatency, m.rateLimitHits,
			m.joinRequests, m.teamFailures,
			m.messages, m.deliveries, m.connections, m.roomsOccupied,
		)
	}
	return m
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpLatency.With(labels).Observe(d.Seconds())
}

func (m *Metrics) RateLimited(scope string) {
	m.rateLimitHits.WithLabelValues(scope).Inc()
}

func (m *Metrics) JoinRequestTransition(transition string) {
	m.joinRequests.WithLabelValues(transition).Inc()
}

func (m *Metrics) TeamFailure(operation, code string) {
	m.teamFailures.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) MessagePersisted() { m.messages.WithLabelValues("persisted").Inc() }
func (m *Metrics) MessageRejected()  { m.messages.WithLabelValues("rejected").Inc() }
func (m *Metrics) MessageFailed()    { m.messages.WithLabelValues("failed").Inc() }

func (m *Metrics) Delivered()       { m.deliveries.WithLabelValues("delivered").Inc() }
func (m *Metrics) DeliveryDropped() { m.deliveries.WithLabelValues("dropped").Inc() }

func (m *Metrics) SetConnections(n int) { m.connections.Set(float64(n)) }
func (m *Metrics) SetRooms(n int)       { m.roomsOccupied.Set(float64(n)) }
