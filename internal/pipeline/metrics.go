package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	stageDurationHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deployer_pipeline_stage_duration_seconds",
		Help:    "Duration of pipeline stages by outcome",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{
		"stage",
		"outcome",
	})

	runResultCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deployer_pipeline_runs_total",
		Help: "Pipeline runs by terminal result",
	}, []string{
		"result",
	})

	lastRunGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deployer_pipeline_last_run_info",
		Help: "Terminal state of the most recent pipeline run",
	}, []string{
		"run_id",
		"branch",
		"image_tag",
		"result",
	})

	metricsRegistered = false
)

func registerMetrics() {
	if metricsRegistered {
		return
	}
	prometheus.MustRegister(stageDurationHist, runResultCounter, lastRunGauge)
	metricsRegistered = true
}
