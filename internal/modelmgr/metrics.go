package modelmgr

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cerastes",
			Subsystem: "models",
			Name:      "loads_total",
			Help:      "Total number of model loads",
		},
		[]string{"model"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cerastes",
			Subsystem: "models",
			Name:      "evictions_total",
			Help:      "Total number of model evictions performed to free memory",
		},
		[]string{"model"},
	)

	memoryUsedMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cerastes",
			Subsystem: "models",
			Name:      "memory_used_mb",
			Help:      "Estimated memory used by loaded models in MB",
		},
	)

	deviceInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cerastes",
			Subsystem: "models",
			Name:      "device_inflight",
			Help:      "Inference calls currently in flight per device",
		},
		[]string{"device"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, evictionsTotal, memoryUsedMB, deviceInflight)
}
