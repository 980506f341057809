package stream

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts stream activity. A nil *Metrics records nothing.
type Metrics struct {
	openedTotal prometheus.Counter
	closedTotal *prometheus.CounterVec
	tokensTotal prometheus.Counter
	faultsTotal *prometheus.CounterVec
}

// NewMetrics creates the stream counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		openedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "stream",
			Name:      "opened_total",
			Help:      "Chat streams opened.",
		}),
		closedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "stream",
			Name:      "closed_total",
			Help:      "Chat streams closed, by reason.",
		}, []string{"reason"}),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "stream",
			Name:      "tokens_total",
			Help:      "Token events received.",
		}),
		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "stream",
			Name:      "handler_faults_total",
			Help:      "Panics recovered from stream handlers, by event.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.openedTotal, m.closedTotal, m.tokensTotal, m.faultsTotal)
	return m
}

func (m *Metrics) opened() {
	if m != nil {
		m.openedTotal.Inc()
	}
}

func (m *Metrics) closed(reason CloseReason) {
	if m != nil {
		m.closedTotal.WithLabelValues(reason.String()).Inc()
	}
}

func (m *Metrics) token() {
	if m != nil {
		m.tokensTotal.Inc()
	}
}

func (m *Metrics) handlerFault(event string) {
	if m != nil {
		m.faultsTotal.WithLabelValues(event).Inc()
	}
}
