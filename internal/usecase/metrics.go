package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the operational counters of the core. Integrity warnings
// must be observable: they indicate the cross-store invariant was violated
// somewhere upstream.
type Metrics struct {
	EnrollmentsTotal       *prometheus.CounterVec
	VerificationsTotal     *prometheus.CounterVec
	IntegrityWarningsTotal prometheus.Counter
}

// NewMetrics registers the counters against the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EnrollmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceproof_enrollments_total",
			Help: "Total enrollment attempts by outcome",
		}, []string{"outcome"}),
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceproof_verifications_total",
			Help: "Total verification requests by decision",
		}, []string{"decision"}),
		IntegrityWarningsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "faceproof_integrity_warnings_total",
			Help: "Vector index entries found without a matching identity record",
		}),
	}
}

// ObserveEnrollment records one enrollment attempt.
func (m *Metrics) ObserveEnrollment(outcome *EnrollmentOutcome) {
	if outcome.Succeeded {
		m.EnrollmentsTotal.WithLabelValues("succeeded").Inc()
		return
	}
	m.EnrollmentsTotal.WithLabelValues("failed_" + string(outcome.FailureStage)).Inc()
}

// ObserveVerification records one verification decision.
func (m *Metrics) ObserveVerification(matched bool) {
	if matched {
		m.VerificationsTotal.WithLabelValues("matched").Inc()
		return
	}
	m.VerificationsTotal.WithLabelValues("no_match").Inc()
}

// ObserveIntegrityWarning records one dangling vector index entry.
func (m *Metrics) ObserveIntegrityWarning() {
	m.IntegrityWarningsTotal.Inc()
}
