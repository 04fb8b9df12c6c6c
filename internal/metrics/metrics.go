// Package metrics exposes UAP session and traffic counters to Prometheus and
// to the periodic console reporter.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/session"
)

// Metrics holds the Prometheus collectors plus the plain totals the reporter
// diffs between ticks.
type Metrics struct {
	sessionsOpened prometheus.Counter
	sessionsClosed *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	messages       *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	deliveries     prometheus.Counter
	latency        prometheus.Histogram

	openMu sync.Mutex
	open   map[uint32]struct{} // sessions counted in sessionsActive

	totalOpened atomic.Int64
	totalClosed atomic.Int64
	bytesSent   atomic.Int64
	bytesRecv   atomic.Int64
}

// New registers the collectors on reg. A nil reg uses a private registry,
// which keeps tests and multiple instances from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "uap",
			Name:      "sessions_opened_total",
			Help:      "Sessions established",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uap",
			Name:      "sessions_closed_total",
			Help:      "Sessions closed, by reason",
		}, []string{"reason"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "uap",
			Name:      "sessions_active",
			Help:      "Sessions currently open",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uap",
			Name:      "messages_total",
			Help:      "Datagrams sent and received, by direction and command",
		}, []string{"direction", "command"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uap",
			Name:      "bytes_total",
			Help:      "Datagram bytes, by direction",
		}, []string{"direction"}),
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uap",
			Name:      "anomalies_total",
			Help:      "Duplicates, gaps, rejections and malformed datagrams",
		}, []string{"kind"}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "uap",
			Name:      "deliveries_total",
			Help:      "DATA payloads delivered in order",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uap",
			Name:      "one_way_latency_seconds",
			Help:      "Receive time minus the sender's header timestamp",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		open: make(map[uint32]struct{}),
	}
}

// Sent records an outbound datagram of n bytes.
func (m *Metrics) Sent(cmd protocol.Command, n int) {
	m.messages.WithLabelValues("out", cmd.String()).Inc()
	m.bytes.WithLabelValues("out").Add(float64(n))
	m.bytesSent.Add(int64(n))
}

// Received records an inbound datagram of n bytes and its one-way latency.
func (m *Metrics) Received(msg *protocol.Message, n int, now time.Time) {
	m.messages.WithLabelValues("in", msg.Command.String()).Inc()
	m.bytes.WithLabelValues("in").Add(float64(n))
	m.bytesRecv.Add(int64(n))

	// the stamp is peer-supplied; anything past MaxInt64 is not a time
	if msg.Timestamp == 0 || msg.Timestamp > math.MaxInt64 {
		return
	}
	if dt := now.UnixNano() - int64(msg.Timestamp); dt >= 0 {
		m.latency.Observe(time.Duration(dt).Seconds())
	}
}

// Malformed records a datagram the codec refused.
func (m *Metrics) Malformed() {
	m.anomalies.WithLabelValues("malformed").Inc()
}

// Observe folds session events into the counters.
func (m *Metrics) Observe(events []session.Event) {
	for _, e := range events {
		switch e.Kind {
		case session.EventCreated, session.EventEstablished:
			m.openMu.Lock()
			m.open[e.SessionID] = struct{}{}
			m.openMu.Unlock()
			m.sessionsOpened.Inc()
			m.sessionsActive.Inc()
			m.totalOpened.Add(1)
		case session.EventDelivered:
			m.deliveries.Inc()
		case session.EventDuplicate, session.EventOutOfOrder, session.EventRejected:
			m.anomalies.WithLabelValues(e.Kind.String()).Inc()
		case session.EventLost:
			m.anomalies.WithLabelValues("lost").Add(float64(e.Range.Len()))
		case session.EventClosed:
			m.sessionsClosed.WithLabelValues(closeLabel(e.Reason)).Inc()
			m.totalClosed.Add(1)
			m.openMu.Lock()
			if _, ok := m.open[e.SessionID]; ok {
				delete(m.open, e.SessionID)
				m.sessionsActive.Dec()
			}
			m.openMu.Unlock()
		}
	}
}

func closeLabel(r session.Reason) string {
	if r == session.ReasonNone {
		return "other"
	}
	return r.String()
}
