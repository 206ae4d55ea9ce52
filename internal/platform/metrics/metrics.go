// Package metrics exposes Prometheus collectors for the redistribution
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the engine's collectors. A nil *Set is a no-op everywhere so
// tests can skip metrics wiring.
type Set struct {
	RedistributionsTotal *prometheus.CounterVec
	AdmissionDenials     *prometheus.CounterVec
	TransferDuration     *prometheus.HistogramVec
	BalanceSweepErrors   prometheus.Counter
	ActiveFieldEvents    prometheus.Gauge
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)

	return &Set{
		RedistributionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldledger",
			Name:      "redistributions_total",
			Help:      "Redistribution pipeline outcomes by currency and reason.",
		}, []string{"currency", "reason"}),
		AdmissionDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldledger",
			Name:      "admission_denials_total",
			Help:      "Breath-safety denials by reason code.",
		}, []string{"reason"}),
		TransferDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldledger",
			Name:      "transfer_duration_seconds",
			Help:      "Wall time of adapter transfer calls, including confirmation wait.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"currency"}),
		BalanceSweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldledger",
			Name:      "balance_sweep_errors_total",
			Help:      "Per-adapter failures during balance sweeps.",
		}),
		ActiveFieldEvents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldledger",
			Name:      "active_field_events",
			Help:      "Field resonance events currently active.",
		}),
	}
}

// ObserveOutcome counts one pipeline outcome.
func (s *Set) ObserveOutcome(currency, reason string) {
	if s == nil {
		return
	}
	s.RedistributionsTotal.WithLabelValues(currency, reason).Inc()
}

// ObserveDenial counts one admission denial.
func (s *Set) ObserveDenial(reason string) {
	if s == nil {
		return
	}
	s.AdmissionDenials.WithLabelValues(reason).Inc()
}

// ObserveTransfer records one transfer duration.
func (s *Set) ObserveTransfer(currency string, seconds float64) {
	if s == nil {
		return
	}
	s.TransferDuration.WithLabelValues(currency).Observe(seconds)
}

// ObserveSweepError counts one failed balance query.
func (s *Set) ObserveSweepError() {
	if s == nil {
		return
	}
	s.BalanceSweepErrors.Inc()
}

// SetActiveEvents updates the active event gauge.
func (s *Set) SetActiveEvents(n int) {
	if s == nil {
		return
	}
	s.ActiveFieldEvents.Set(float64(n))
}
