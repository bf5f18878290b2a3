package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	RejectionsTotal  *prometheus.CounterVec
	PeoplePerRequest prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisisconnect_submissions_total",
			Help: "Total help requests submitted by source and initial urgency.",
		}, []string{"source", "urgency"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisisconnect_transitions_total",
			Help: "Total status and urgency writes by field and new value.",
		}, []string{"field", "value"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisisconnect_rejections_total",
			Help: "Total rejected operations by operation and reason.",
		}, []string{"operation", "reason"}),
		PeoplePerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crisisconnect_people_per_request",
			Help:    "Number of affected people reported per help request.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.TransitionsTotal,
		m.RejectionsTotal,
		m.PeoplePerRequest,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnSubmit: func(r *HelpRequest) {
			m.SubmissionsTotal.WithLabelValues(string(r.Source), string(r.Urgency)).Inc()
			m.PeoplePerRequest.Observe(float64(r.NumPeople))
		},
		OnTransition: func(field, _, to string) {
			m.TransitionsTotal.WithLabelValues(field, to).Inc()
		},
		OnReject: func(operation, reason string) {
			m.RejectionsTotal.WithLabelValues(operation, reason).Inc()
		},
	}
}
