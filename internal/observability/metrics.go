package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the enricher's prometheus collectors.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	JobsTotal        *prometheus.CounterVec
	JobsRunning      prometheus.Gauge
	PagesProcessed   *prometheus.CounterVec
	DeployTargets    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdf_enricher",
			Name:      "provider_requests_total",
			Help:      "Vision provider calls by outcome.",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pdf_enricher",
			Name:      "provider_request_duration_seconds",
			Help:      "Vision provider call latency including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdf_enricher",
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal state.",
		}, []string{"status", "code"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pdf_enricher",
			Name:      "jobs_running",
			Help:      "Jobs currently being processed.",
		}),
		PagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdf_enricher",
			Name:      "pages_processed_total",
			Help:      "Pages processed by strategy.",
		}, []string{"strategy"}),
		DeployTargets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdf_enricher",
			Name:      "deploy_targets_total",
			Help:      "Deploy target executions by type and outcome.",
		}, []string{"target", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ProviderRequests,
			m.ProviderLatency,
			m.JobsTotal,
			m.JobsRunning,
			m.PagesProcessed,
			m.DeployTargets,
		)
	}
	return m
}

// ObserveProvider records one provider call.
func (m *Metrics) ObserveProvider(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveJob records a terminal job transition.
func (m *Metrics) ObserveJob(status, code string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status, code).Inc()
}

// JobStarted increments the running gauge; the returned func decrements it.
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}
	m.JobsRunning.Inc()
	return m.JobsRunning.Dec
}

// ObservePage records a processed page.
func (m *Metrics) ObservePage(strategy string) {
	if m == nil {
		return
	}
	m.PagesProcessed.WithLabelValues(strategy).Inc()
}

// ObserveDeploy records one deploy target outcome.
func (m *Metrics) ObserveDeploy(target, outcome string) {
	if m == nil {
		return
	}
	m.DeployTargets.WithLabelValues(target, outcome).Inc()
}
