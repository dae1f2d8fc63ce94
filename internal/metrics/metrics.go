// Package metrics exposes Prometheus collectors for connection handling.
//
// A nil *Collector is a valid no-op receiver, so sessions never need to
// nil-check before recording.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flexgate"

// Collector groups every metric the server records.
type Collector struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	detections          *prometheus.CounterVec
	httpResponses       *prometheus.CounterVec
	upgrades            prometheus.Counter
	wsSessionsActive    prometheus.Gauge
	wsMessages          *prometheus.CounterVec
	broadcasts          prometheus.Counter
	broadcastFanout     prometheus.Histogram
	failures            *prometheus.CounterVec
}

// New creates a collector registered on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections handed to the protocol detector.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently owned by a session.",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Protocol detection outcomes.",
		}, []string{"outcome"}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP responses written, by status code class.",
		}, []string{"class"}),
		upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "upgrades_total",
			Help:      "HTTP sessions handed off to WebSocket sessions.",
		}),
		wsSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "sessions_active",
			Help:      "WebSocket sessions not yet destroyed.",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "WebSocket data messages by direction.",
		}, []string{"direction"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcasts_total",
			Help:      "Broadcast calls on the shared state.",
		}),
		broadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcast_fanout",
			Help:      "Sessions reached per broadcast.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_endings_total",
			Help:      "Session endings by error kind, benign kinds included.",
		}, []string{"kind"}),
	}

	c.registry.MustRegister(
		c.connectionsAccepted,
		c.connectionsActive,
		c.detections,
		c.httpResponses,
		c.upgrades,
		c.wsSessionsActive,
		c.wsMessages,
		c.broadcasts,
		c.broadcastFanout,
		c.failures,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ConnectionAccepted counts a new connection and marks it active.
func (c *Collector) ConnectionAccepted() {
	if c == nil {
		return
	}
	c.connectionsAccepted.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed marks a connection as no longer active.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

// Detection records a detector outcome ("plain", "secured", "failed").
func (c *Collector) Detection(outcome string) {
	if c == nil {
		return
	}
	c.detections.WithLabelValues(outcome).Inc()
}

// HTTPResponse records a written response by status class ("2xx").
func (c *Collector) HTTPResponse(status int) {
	if c == nil {
		return
	}
	c.httpResponses.WithLabelValues(statusClass(status)).Inc()
}

// Upgrade records a transport handoff.
func (c *Collector) Upgrade() {
	if c == nil {
		return
	}
	c.upgrades.Inc()
}

// WebSocketOpened marks a WebSocket session alive.
func (c *Collector) WebSocketOpened() {
	if c == nil {
		return
	}
	c.wsSessionsActive.Inc()
}

// WebSocketDestroyed marks a WebSocket session destroyed.
func (c *Collector) WebSocketDestroyed() {
	if c == nil {
		return
	}
	c.wsSessionsActive.Dec()
}

// Message records a data message in direction "in" or "out".
func (c *Collector) Message(direction string) {
	if c == nil {
		return
	}
	c.wsMessages.WithLabelValues(direction).Inc()
}

// Broadcast records one broadcast reaching n sessions.
func (c *Collector) Broadcast(n int) {
	if c == nil {
		return
	}
	c.broadcasts.Inc()
	c.broadcastFanout.Observe(float64(n))
}

// SessionEnded records how a session or connection ended.
func (c *Collector) SessionEnded(kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(kind).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 100 && status < 600:
		return strconv.Itoa(status/100) + "xx"
	default:
		return "other"
	}
}
