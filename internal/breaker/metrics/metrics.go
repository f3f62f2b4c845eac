package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kwscope_breaker_transitions_total",
			Help: "Circuit breaker state transitions by breaker name and destination state",
		}, []string{"breaker", "to"}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kwscope_breaker_rejections_total",
			Help: "Calls rejected without invoking the protected operation",
		}, []string{"breaker"}),
	}
}

func (m *Metrics) RecordTransition(breaker, to string) {
	m.Transitions.WithLabelValues(breaker, to).Inc()
}

func (m *Metrics) RecordRejection(breaker string) {
	m.Rejections.WithLabelValues(breaker).Inc()
}
