package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylens_jobs_processed_total",
		Help: "Total number of analysis jobs processed, by status",
	}, []string{"status"})

	JobStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skylens_job_stage_duration_seconds",
		Help:    "Duration of analysis pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skylens_frames_sampled_total",
		Help: "Total number of frames sampled across all jobs",
	})

	GroupsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylens_groups_classified_total",
		Help: "Total number of evidence groups classified, by verdict",
	}, []string{"verdict"})

	ClassifyRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skylens_classify_retry_total",
		Help: "Total number of rate-limit retries against the classifier",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skylens_active_workers",
		Help: "Number of currently active workers processing jobs",
	})
)
