// Package metrics provides Prometheus instrumentation for the reactor server.
// It exposes a gauge for live connections, counters for accept/close and byte
// throughput, and a counter for backpressure transitions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nio"

// Close reasons used as the "reason" label of ConnectionsClosed.
const (
	ReasonPeerClosed = "peer_closed"
	ReasonReadError  = "read_error"
	ReasonWriteError = "write_error"
	ReasonHangup     = "hangup"
	ReasonShutdown   = "shutdown"
)

// Backpressure directions used as the "direction" label.
const (
	DirectionPause  = "pause"
	DirectionResume = "resume"
)

type Metrics struct {
	// ConnectionsActive tracks the current number of accepted, open connections.
	ConnectionsActive prometheus.Gauge

	ConnectionsAccepted prometheus.Counter

	// ConnectionsClosed counts teardowns, labeled by reason.
	ConnectionsClosed *prometheus.CounterVec

	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter

	// Backpressure counts read-interest transitions: "pause" when reads are
	// disabled at the high watermark, "resume" when they are enabled again.
	Backpressure *prometheus.CounterVec

	// HandlerFailures counts errors and panics caught at the dispatch boundary.
	HandlerFailures prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests that only read values want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current number of open client connections",
		}),
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of closed client connections",
		}, []string{"reason"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Total bytes read from clients",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total bytes written to clients",
		}),
		Backpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_transitions_total",
			Help:      "Read interest transitions caused by output queue watermarks",
		}, []string{"direction"}),
		HandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Handler errors and panics caught by the event loop",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionsActive,
			m.ConnectionsAccepted,
			m.ConnectionsClosed,
			m.BytesRead,
			m.BytesWritten,
			m.Backpressure,
			m.HandlerFailures,
		)
	}
	return m
}

// Handler returns the Prometheus metrics HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
