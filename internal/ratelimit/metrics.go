package ratelimit

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes limiter state to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	InFlight  prometheus.Gauge
	Queued    prometheus.Gauge
	Retries   prometheus.Counter
	Exhausted prometheus.Counter
}

// NewMetrics creates and registers limiter collectors labelled with the
// limiter's name (usually the backend name).
func NewMetrics(reg prometheus.Registerer, name string) (*Metrics, error) {
	labels := prometheus.Labels{"limiter": name}

	m := &Metrics{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "netdisk",
			Subsystem:   "ratelimit",
			Name:        "in_flight",
			Help:        "Operations currently holding a concurrency slot.",
			ConstLabels: labels,
		}),
		Queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "netdisk",
			Subsystem:   "ratelimit",
			Name:        "queued",
			Help:        "Operations waiting for a concurrency slot.",
			ConstLabels: labels,
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "netdisk",
			Subsystem:   "ratelimit",
			Name:        "retries_total",
			Help:        "Throttled attempts that were retried.",
			ConstLabels: labels,
		}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "netdisk",
			Subsystem:   "ratelimit",
			Name:        "exhausted_total",
			Help:        "Operations that failed after exhausting retries.",
			ConstLabels: labels,
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.InFlight, m.Queued, m.Retries, m.Exhausted} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("ratelimit: registering metrics for %s: %w", name, err)
		}
	}

	return m, nil
}

func (m *Metrics) setInFlight(n int) {
	if m != nil {
		m.InFlight.Set(float64(n))
	}
}

func (m *Metrics) setQueued(n int) {
	if m != nil {
		m.Queued.Set(float64(n))
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) exhausted() {
	if m != nil {
		m.Exhausted.Inc()
	}
}
