package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geogate"

// Metrics contains the gateway-wide metrics. Every Record method is safe to
// call on a nil *Metrics so components can run without a registry.
type Metrics struct {
	ServiceStatus *prometheus.GaugeVec

	ConnectionsActive   prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	Disconnections      *prometheus.CounterVec

	MessagesReceived *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	Enrichment       *prometheus.CounterVec

	Sweeps    prometheus.Counter
	Evictions prometheus.Counter

	EventsPublished *prometheus.CounterVec
	NATSConnected   prometheus.Gauge
}

// NewMetrics builds unregistered gateway metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"service"}),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Registered WebSocket connections",
		}),
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "WebSocket connections accepted",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "rejected_total",
			Help:      "WebSocket upgrades refused",
		}, []string{"reason"}),
		Disconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "WebSocket connections closed, by cause",
		}, []string{"cause"}),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Inbound WebSocket messages, by outcome of envelope parsing",
		}, []string{"outcome"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Dispatched requests",
		}, []string{"action", "transport", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Handler duration including upstream calls",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),

		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Calls to upstream services",
		}, []string{"service", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "duration_seconds",
			Help:      "Upstream call duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		Enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "enrichment_total",
			Help:      "LLM enrichment attempts",
		}, []string{"action", "outcome"}),

		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "cycles_total",
			Help:      "Idle sweep cycles run",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "evictions_total",
			Help:      "Connections closed for inactivity",
		}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lifecycle and audit events published",
		}, []string{"kind", "status"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.ConnectionsActive,
		c.ConnectionsAccepted,
		c.ConnectionsRejected,
		c.Disconnections,
		c.MessagesReceived,
		c.Requests,
		c.DispatchDuration,
		c.UpstreamCalls,
		c.UpstreamDuration,
		c.Enrichment,
		c.Sweeps,
		c.Evictions,
		c.EventsPublished,
		c.NATSConnected,
	}
}

// RecordServiceStatus updates the status gauge for a service.
func (c *Metrics) RecordServiceStatus(service string, status int) {
	if c == nil {
		return
	}
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordConnectionOpened counts an accepted connection.
func (c *Metrics) RecordConnectionOpened() {
	if c == nil {
		return
	}
	c.ConnectionsAccepted.Inc()
	c.ConnectionsActive.Inc()
}

// RecordConnectionClosed counts a closed connection.
func (c *Metrics) RecordConnectionClosed(cause string) {
	if c == nil {
		return
	}
	c.ConnectionsActive.Dec()
	c.Disconnections.WithLabelValues(cause).Inc()
}

// RecordConnectionRejected counts a refused upgrade.
func (c *Metrics) RecordConnectionRejected(reason string) {
	if c == nil {
		return
	}
	c.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// RecordMessage counts an inbound frame.
func (c *Metrics) RecordMessage(outcome string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(outcome).Inc()
}

// RecordRequest counts a dispatched request and its duration.
func (c *Metrics) RecordRequest(action, transport, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(action, transport, status).Inc()
	c.DispatchDuration.WithLabelValues(action).Observe(d.Seconds())
}

// RecordUpstream counts an upstream call.
func (c *Metrics) RecordUpstream(service, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.UpstreamCalls.WithLabelValues(service, outcome).Inc()
	c.UpstreamDuration.WithLabelValues(service).Observe(d.Seconds())
}

// RecordEnrichment counts whether an enrichment field was attached.
func (c *Metrics) RecordEnrichment(action string, attached bool) {
	if c == nil {
		return
	}
	outcome := "skipped"
	if attached {
		outcome = "attached"
	}
	c.Enrichment.WithLabelValues(action, outcome).Inc()
}

// RecordSweep counts one sweep cycle and the connections it evicted.
func (c *Metrics) RecordSweep(evicted int) {
	if c == nil {
		return
	}
	c.Sweeps.Inc()
	c.Evictions.Add(float64(evicted))
}

// RecordEvent counts a published event.
func (c *Metrics) RecordEvent(kind string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.EventsPublished.WithLabelValues(kind, status).Inc()
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}
