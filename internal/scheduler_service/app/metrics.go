package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "jobs_processed_total",
			Help:      "Total number of job attempts by outcome.",
		},
		[]string{"job_type", "status"}, // status: success, retry, failed, canceled
	)
	jobProcessingDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "job_processing_duration_seconds",
			Help:      "Duration of a single job attempt.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)
	jobsPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "jobs_pending",
			Help:      "Jobs known to the manager that have not finished.",
		},
	)
)
