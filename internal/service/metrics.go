package service

import (
	"time"

	"chargeline/internal/charge"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	debits   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	resets   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		debits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargeline",
			Name:      "debits_total",
			Help:      "Debit attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chargeline",
			Name:      "debit_duration_seconds",
			Help:      "Time spent in a debit, including any pre-commit delay.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargeline",
			Name:      "balance_resets_total",
			Help:      "Balance resets by backend.",
		}, []string{"backend"}),
	}
	reg.MustRegister(m.debits, m.duration, m.resets)
	return m
}

// Observer returns a charge.Observer counting outcomes for backend.
func (m *Metrics) Observer(backend string) charge.Observer {
	if m == nil {
		return nil
	}
	return func(o charge.Outcome) {
		m.debits.WithLabelValues(backend, string(o)).Inc()
	}
}

func (m *Metrics) observeDuration(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) countReset(backend string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(backend).Inc()
}
