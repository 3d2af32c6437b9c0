package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds all Prometheus metrics for the ledger, router and saga.
// Every method is nil-safe so components can run without metrics in tests.
type Metrics struct {
	EventsAppended     *prometheus.CounterVec
	DispatchOutcomes   *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	SlowDispatches     *prometheus.CounterVec
	CascadeEvents      prometheus.Counter
	BootstrapOutcomes  *prometheus.CounterVec
	BootstrapDuration  prometheus.Histogram
	ProviderCalls      *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	BusPublishFailures prometheus.Counter
	AuthzDecisions     *prometheus.CounterVec
}

// New registers the metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carebase_events_appended_total",
			Help: "Events appended to the ledger by stream type",
		}, []string{"stream_type"}),
		DispatchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carebase_router_dispatch_total",
			Help: "Router dispatch outcomes by stream type (processed, failed, unrouted, skipped)",
		}, []string{"stream_type", "outcome"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carebase_router_dispatch_duration_seconds",
			Help:    "Projector execution time by stream type",
			Buckets: latencyBuckets,
		}, []string{"stream_type"}),
		SlowDispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carebase_router_slow_dispatch_total",
			Help: "Dispatches that exceeded the latency warning threshold",
		}, []string{"stream_type"}),
		CascadeEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "carebase_cascade_events_total",
			Help: "Follow-up events appended from the cascade work queue",
		}),
		BootstrapOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carebase_bootstrap_outcomes_total",
			Help: "Organization bootstrap saga terminal outcomes by result and failed stage",
		}, []string{"result", "stage"}),
		BootstrapDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carebase_bootstrap_duration_seconds",
			Help:    "Duration of organization bootstrap saga runs",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carebase_provider_calls_total",
			Help: "External provider calls by operation and result",
		}, []string{"operation", "result"}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carebase_circuit_breaker_transitions_total",
			Help: "Circuit breaker transitions by service and target state",
		}, []string{"service", "to"}),
		BusPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "carebase_bus_publish_failures_total",
			Help: "Committed events that could not be published downstream",
		}),
		AuthzDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carebase_authz_decisions_total",
			Help: "Authorization decisions by check and result",
		}, []string{"check", "result"}),
	}
}

func (m *Metrics) IncEventAppended(streamType string) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(streamType).Inc()
}

func (m *Metrics) ObserveDispatch(streamType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchOutcomes.WithLabelValues(streamType, outcome).Inc()
	if outcome == "processed" || outcome == "failed" {
		m.DispatchDuration.WithLabelValues(streamType).Observe(d.Seconds())
	}
}

func (m *Metrics) IncSlowDispatch(streamType string) {
	if m == nil {
		return
	}
	m.SlowDispatches.WithLabelValues(streamType).Inc()
}

func (m *Metrics) IncCascade() {
	if m == nil {
		return
	}
	m.CascadeEvents.Inc()
}

// ObserveBootstrap records a terminal saga outcome. Call with the saga start time.
func (m *Metrics) ObserveBootstrap(result, stage string, start time.Time) {
	if m == nil {
		return
	}
	m.BootstrapOutcomes.WithLabelValues(result, stage).Inc()
	m.BootstrapDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncProviderCall(operation, result string) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) IncBreakerTransition(service, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(service, to).Inc()
}

func (m *Metrics) IncBusPublishFailure() {
	if m == nil {
		return
	}
	m.BusPublishFailures.Inc()
}

func (m *Metrics) IncAuthzDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.AuthzDecisions.WithLabelValues(check, result).Inc()
}
