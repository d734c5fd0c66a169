// Package agentmetrics exposes this agent's Prometheus metrics, grounded
// on the teacher's pkg/metrics: one package-level var per metric,
// registered in init and served through promhttp's default handler.
package agentmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkloadStatesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ankagent_workload_states_total",
			Help: "Number of workloads currently in each execution state",
		},
		[]string{"state"},
	)

	SchedulerPendingTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ankagent_scheduler_pending_total",
			Help: "Number of workload operations currently waiting on a dependency",
		},
	)

	WorkloadOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ankagent_workload_operations_total",
			Help: "Total number of workload operations executed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ControlInterfaceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ankagent_control_interface_requests_total",
			Help: "Total number of control interface requests forwarded to the server, by workload",
		},
		[]string{"workload_name"},
	)

	ControlInterfaceDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ankagent_control_interface_denied_total",
			Help: "Total number of control interface operations rejected by the authorizer",
		},
		[]string{"workload_name"},
	)

	LogStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ankagent_log_streams_active",
			Help: "Number of log streaming requests currently being served",
		},
	)

	WorkloadCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ankagent_workload_create_duration_seconds",
			Help:    "Time taken to start a workload through its runtime connector",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(WorkloadStatesTotal)
	prometheus.MustRegister(SchedulerPendingTotal)
	prometheus.MustRegister(WorkloadOperationsTotal)
	prometheus.MustRegister(ControlInterfaceRequestsTotal)
	prometheus.MustRegister(ControlInterfaceDeniedTotal)
	prometheus.MustRegister(LogStreamsActive)
	prometheus.MustRegister(WorkloadCreateDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation; ObserveDuration reports the elapsed time to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
