package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics describe synchronization passes. A nil *SyncMetrics is valid
// and records nothing.
type SyncMetrics struct {
	Passes               prometheus.Counter
	PassDuration         prometheus.Histogram
	Services             *prometheus.CounterVec
	ResourcesRegistered  prometheus.Counter
	ResourcesDeleted     prometheus.Counter
	RegistrationFailures prometheus.Counter
	RegisteredServices   prometheus.Gauge
}

// NewSyncMetrics creates and registers the synchronizer metrics.
func NewSyncMetrics(registrar MetricsRegistrar) (*SyncMetrics, error) {
	m := &SyncMetrics{
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "passes_total",
			Help: "Completed synchronization passes",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "pass_duration_seconds",
			Help:    "Duration of a synchronization pass over all services",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Services: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "services_total",
			Help: "Per-service synchronizations by result (success, warning, failed)",
		}, []string{"result"}),
		ResourcesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "resources_registered_total",
			Help: "Elements registered in the resource index",
		}),
		ResourcesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "resources_deleted_total",
			Help: "Elements removed from the resource index",
		}),
		RegistrationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "registration_failures_total",
			Help: "Element registrations that failed and will be retried",
		}),
		RegisteredServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "registered_services",
			Help: "Remote services known to the self-description store",
		}),
	}

	const svc = "synchronizer"
	for _, reg := range []func() error{
		func() error { return registrar.RegisterCounter(svc, "passes_total", m.Passes) },
		func() error { return registrar.RegisterHistogram(svc, "pass_duration_seconds", m.PassDuration) },
		func() error { return registrar.RegisterCounterVec(svc, "services_total", m.Services) },
		func() error {
			return registrar.RegisterCounter(svc, "resources_registered_total", m.ResourcesRegistered)
		},
		func() error { return registrar.RegisterCounter(svc, "resources_deleted_total", m.ResourcesDeleted) },
		func() error {
			return registrar.RegisterCounter(svc, "registration_failures_total", m.RegistrationFailures)
		},
		func() error { return registrar.RegisterGauge(svc, "registered_services", m.RegisteredServices) },
	} {
		if err := reg(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordPass records one pass over n services.
func (m *SyncMetrics) RecordPass(d time.Duration, services int) {
	if m == nil {
		return
	}
	m.Passes.Inc()
	m.PassDuration.Observe(d.Seconds())
	m.RegisteredServices.Set(float64(services))
}

// RecordService records the outcome of one service synchronization.
func (m *SyncMetrics) RecordService(result string) {
	if m == nil {
		return
	}
	m.Services.WithLabelValues(result).Inc()
}

// RecordRegistered adds n registered resources.
func (m *SyncMetrics) RecordRegistered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ResourcesRegistered.Add(float64(n))
}

// RecordRegistrationFailure counts a failed element registration.
func (m *SyncMetrics) RecordRegistrationFailure() {
	if m == nil {
		return
	}
	m.RegistrationFailures.Inc()
}

// RecordDeleted adds n deleted resources.
func (m *SyncMetrics) RecordDeleted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ResourcesDeleted.Add(float64(n))
}

// NegotiationMetrics describe contract negotiations. A nil value records
// nothing.
type NegotiationMetrics struct {
	Outcomes     *prometheus.CounterVec
	WaitDuration prometheus.Histogram
	Pending      prometheus.Gauge
}

// Negotiation outcomes.
const (
	OutcomeReused     = "reused"
	OutcomeAgreed     = "agreed"
	OutcomeRejected   = "rejected"
	OutcomeTimeout    = "timeout"
	OutcomeTerminated = "terminated"
	OutcomeFailed     = "failed"
)

// NewNegotiationMetrics creates and registers the negotiation metrics.
func NewNegotiationMetrics(registrar MetricsRegistrar) (*NegotiationMetrics, error) {
	m := &NegotiationMetrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "negotiation", Name: "outcomes_total",
			Help: "Negotiations by outcome",
		}, []string{"outcome"}),
		WaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "negotiation", Name: "wait_duration_seconds",
			Help:    "Time spent waiting for a negotiation to finish",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "negotiation", Name: "pending_waiters",
			Help: "Callers currently waiting for a negotiation",
		}),
	}

	const svc = "negotiator"
	if err := registrar.RegisterCounterVec(svc, "outcomes_total", m.Outcomes); err != nil {
		return nil, err
	}
	if err := registrar.RegisterHistogram(svc, "wait_duration_seconds", m.WaitDuration); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGauge(svc, "pending_waiters", m.Pending); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOutcome counts a finished negotiation.
func (m *NegotiationMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// ObserveWait records a completed wait.
func (m *NegotiationMetrics) ObserveWait(d time.Duration) {
	if m == nil {
		return
	}
	m.WaitDuration.Observe(d.Seconds())
}

// SetPending sets the number of outstanding waiters.
func (m *NegotiationMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
