package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the engine. A nil *Metrics is valid and turns every
// method into a no-op, so tests and embedded uses need no registry.
type Metrics struct {
	sessionsLive prometheus.Gauge
	transitions  *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	sends        *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	reconnects   prometheus.Counter
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "courier_sessions_live",
			Help: "Number of live sessions in the registry.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_session_transitions_total",
			Help: "Session status transitions by target status.",
		}, []string{"to"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Jobs currently queued, summed across sessions.",
		}, []string{"queue"}),
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_outbound_sends_total",
			Help: "Outbound provider sends by content kind and result.",
		}, []string{"kind", "result"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_webhook_deliveries_total",
			Help: "Webhook delivery attempts by result.",
		}, []string{"result"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "courier_reconnects_scheduled_total",
			Help: "Reconnection attempts scheduled after recoverable disconnects.",
		}),
	}
}

func (m *Metrics) sessionAdded() {
	if m == nil {
		return
	}
	m.sessionsLive.Inc()
}

func (m *Metrics) sessionRemoved() {
	if m == nil {
		return
	}
	m.sessionsLive.Dec()
}

func (m *Metrics) transition(to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) queueDelta(queue string, delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Add(delta)
}

func (m *Metrics) sendResult(kind ContentKind, result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) deliveryResult(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
