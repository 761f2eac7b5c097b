package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the gateway-wide metrics
type Metrics struct {
	// Request metrics
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	InboundQueueDepth prometheus.Gauge
	RequeuedTotal     prometheus.Counter
	ShutdownDiscarded prometheus.Counter

	// Connection metrics
	ConnectionsOpen     prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ConnectionsClosed   *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlpool",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of processed requests",
			},
			[]string{"op", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gqlpool",
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Time spent parsing, translating and executing a request",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		InboundQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gqlpool",
				Subsystem: "reactor",
				Name:      "inbound_queue_depth",
				Help:      "Work items waiting for a connection",
			},
		),

		RequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlpool",
				Subsystem: "reactor",
				Name:      "requeued_total",
				Help:      "Work items returned to the inbound queue by a closing connection",
			},
		),

		ShutdownDiscarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlpool",
				Subsystem: "reactor",
				Name:      "shutdown_discarded_total",
				Help:      "Work items resolved with a shutdown error",
			},
		),

		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gqlpool",
				Subsystem: "connections",
				Name:      "open",
				Help:      "Currently registered connections",
			},
		),

		ConnectionsAccepted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlpool",
				Subsystem: "connections",
				Name:      "accepted_total",
				Help:      "Total number of accepted connections",
			},
		),

		ConnectionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlpool",
				Subsystem: "connections",
				Name:      "closed_total",
				Help:      "Total number of closed connections by reason",
			},
			[]string{"reason"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gqlpool",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlpool",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.RequestsTotal,
		c.RequestDuration,
		c.InboundQueueDepth,
		c.RequeuedTotal,
		c.ShutdownDiscarded,
		c.ConnectionsOpen,
		c.ConnectionsAccepted,
		c.ConnectionsClosed,
		c.NATSConnected,
		c.NATSReconnects,
	)
}

// RecordRequest counts a finished request and its processing time.
func (c *Metrics) RecordRequest(op, status string, duration time.Duration) {
	c.RequestsTotal.WithLabelValues(op, status).Inc()
	c.RequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordQueueDepth sets the inbound queue depth
func (c *Metrics) RecordQueueDepth(depth int) {
	c.InboundQueueDepth.Set(float64(depth))
}

// RecordRequeue counts a work item requeued after its connection closed
func (c *Metrics) RecordRequeue() {
	c.RequeuedTotal.Inc()
}

// RecordShutdownDiscard counts work items resolved with a shutdown error
func (c *Metrics) RecordShutdownDiscard(n int) {
	c.ShutdownDiscarded.Add(float64(n))
}

// RecordAccept counts an accepted connection
func (c *Metrics) RecordAccept() {
	c.ConnectionsAccepted.Inc()
	c.ConnectionsOpen.Inc()
}

// RecordClose counts a closed connection
func (c *Metrics) RecordClose(reason string) {
	c.ConnectionsClosed.WithLabelValues(reason).Inc()
	c.ConnectionsOpen.Dec()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
