package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the server's prometheus instruments. Counters are
// safe from any goroutine; the loop is the only writer in practice
// except for the byte counters.
type metrics struct {
	connections prometheus.Gauge
	sessions    prometheus.Gauge

	messagesIn  *prometheus.CounterVec
	messagesOut prometheus.Counter
	bytesOut    prometheus.Counter

	disconnects *prometheus.CounterVec
	syncRounds  prometheus.Counter
	deflateOut  prometheus.Counter
	reaped      prometheus.Counter

	handshakeSeconds prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "drawpile",
			Name:      "connections",
			Help:      "Currently open client connections, handshaking included.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "drawpile",
			Name:      "sessions",
			Help:      "Currently live sessions.",
		}),
		messagesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drawpile",
			Name:      "messages_received_total",
			Help:      "Messages received from clients, by type.",
		}, []string{"type"}),
		messagesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: "drawpile",
			Name:      "messages_sent_total",
			Help:      "Messages queued to clients.",
		}),
		bytesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: "drawpile",
			Name:      "bytes_sent_total",
			Help:      "Serialized bytes handed to connection writers.",
		}),
		disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drawpile",
			Name:      "disconnects_total",
			Help:      "Connections closed, by cause.",
		}, []string{"cause"}),
		syncRounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: "drawpile",
			Name:      "sync_barriers_total",
			Help:      "Join synchronization barriers raised.",
		}),
		deflateOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: "drawpile",
			Name:      "deflate_envelopes_total",
			Help:      "Outgoing message runs wrapped in a Deflate envelope.",
		}),
		reaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "drawpile",
			Name:      "reaped_total",
			Help:      "Connections dropped by the idle reaper.",
		}),
		handshakeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "drawpile",
			Name:      "handshake_seconds",
			Help:      "Time from accept to active state.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Disconnect causes, the label values of disconnects_total.
const (
	causeClient    = "client"
	causeError     = "error"
	causeReaped    = "reaped"
	causeOverflow  = "overflow"
	causeViolation = "violation"
	causeShutdown  = "shutdown"
)
