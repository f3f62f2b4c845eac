package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal     *prometheus.CounterVec
	BackendFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kwscope_ratelimit_checks_total",
			Help: "Rate limit decisions by policy and outcome (allowed, limited, fail_open, fail_closed)",
		}, []string{"policy", "outcome"}),
		BackendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kwscope_ratelimit_backend_failures_total",
			Help: "Storage backend failures observed during rate limit checks",
		}),
	}
}

func (m *Metrics) RecordCheck(policy, outcome string) {
	m.ChecksTotal.WithLabelValues(policy, outcome).Inc()
}

func (m *Metrics) RecordBackendFailure() {
	m.BackendFailures.Inc()
}
