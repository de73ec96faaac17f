// ABOUTME: Bridge metrics: agent gauge, job counters, dispatch latency histogram.
// ABOUTME: Noop when metrics are disabled; Prom registers once and serves via Handler().

package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines the counters and gauges the bridge emits.
type Metrics interface {
	SetAgentsConnected(n int)
	IncJobsDispatched(tenant string)
	IncJobsCompleted(tenant, status string)
	IncJobsFailed(tenant, reason string)
	ObserveDispatchDuration(tenant string, seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) SetAgentsConnected(int)                 {}
func (Noop) IncJobsDispatched(string)               {}
func (Noop) IncJobsCompleted(string, string)        {}
func (Noop) IncJobsFailed(string, string)           {}
func (Noop) ObserveDispatchDuration(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	agentsConnected prometheus.Gauge
	jobsDispatched  *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	dispatchSeconds *prometheus.HistogramVec
	once            sync.Once
}

// NewProm builds and registers the bridge collectors under namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		agentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_connected",
			Help:      "Currently registered agent sessions",
		}),
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Jobs handed to an agent session, by tenant",
		}, []string{"tenant"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs answered by an agent, by tenant and status",
		}, []string{"tenant", "status"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs that failed without an agent answer, by tenant and reason",
		}, []string{"tenant", "reason"}),
		dispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from job send to agent answer, by tenant",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tenant"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(
			p.agentsConnected,
			p.jobsDispatched,
			p.jobsCompleted,
			p.jobsFailed,
			p.dispatchSeconds,
		)
	})
}

func (p *Prom) SetAgentsConnected(n int) {
	p.agentsConnected.Set(float64(n))
}

func (p *Prom) IncJobsDispatched(tenant string) {
	p.jobsDispatched.WithLabelValues(tenant).Inc()
}

func (p *Prom) IncJobsCompleted(tenant, status string) {
	p.jobsCompleted.WithLabelValues(tenant, status).Inc()
}

func (p *Prom) IncJobsFailed(tenant, reason string) {
	p.jobsFailed.WithLabelValues(tenant, reason).Inc()
}

func (p *Prom) ObserveDispatchDuration(tenant string, seconds float64) {
	p.dispatchSeconds.WithLabelValues(tenant).Observe(seconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
