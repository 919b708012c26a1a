package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveryOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media_send",
			Name:      "delivery_outcomes_total",
			Help:      "Delivery attempts by classified outcome.",
		},
		[]string{"outcome"},
	)

	deliveryDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "media_send",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of transport calls for one delivery attempt.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"}, // "direct" or "self"
	)

	enqueueCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media_send",
			Name:      "enqueued_batches_total",
			Help:      "Send batches handed to the job manager.",
		},
		[]string{"mode"}, // "chained", "direct", "failed"
	)

	attachmentUploadsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media_send",
			Name:      "attachment_uploads_total",
			Help:      "Attachment upload attempts by result.",
		},
		[]string{"status"},
	)

	accessModeUpdatesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media_send",
			Name:      "access_mode_updates_total",
			Help:      "Unidentified access mode changes learned from deliveries.",
		},
		[]string{"mode"},
	)

	receiptsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media_send",
			Name:      "receipts_processed_total",
			Help:      "Receipt events consumed from NATS.",
		},
		[]string{"kind", "status"},
	)
)
