package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cerastes_tasks_total",
		Help: "Tasks reaching a terminal state, by kind and state.",
	}, []string{"kind", "state"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cerastes_task_retries_total",
		Help: "Task attempts re-enqueued after a transient failure.",
	}, []string{"kind", "code"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cerastes_queue_depth",
		Help: "Jobs waiting for a worker.",
	})

	runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cerastes_tasks_running",
		Help: "Tasks currently executing.",
	})

	watchdogReaps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cerastes_watchdog_reaps_total",
		Help: "Stale executions cancelled by the watchdog.",
	})
)

func init() {
	prometheus.MustRegister(tasksTotal, retriesTotal, queueDepth, runningGauge, watchdogReaps)
}
