package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ProviderCallSeconds prometheus.Histogram
	CollapsedLookups    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ProviderCallSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kwscope_provider_call_duration_seconds",
			Help:    "Latency of successful keyword provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CollapsedLookups: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kwscope_provider_collapsed_lookups_total",
			Help: "Concurrent identical lookups served by one provider call",
		}),
	}
}

func (m *Metrics) ObserveProviderCall(d time.Duration) {
	m.ProviderCallSeconds.Observe(d.Seconds())
}

func (m *Metrics) RecordCollapsedLookup() {
	m.CollapsedLookups.Inc()
}
