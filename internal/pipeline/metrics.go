package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame outcomes for framesTotal.
const (
	frameProcessed = "processed"
	frameSkipped   = "skipped"
	frameDuplicate = "duplicate"
)

var (
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_frames_total",
			Help: "Frames read from video sources, by outcome",
		},
		[]string{"result"},
	)

	detectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framescan_detections_total",
			Help: "Detections retained in session history",
		},
	)

	iterationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framescan_iteration_duration_seconds",
			Help:    "Duration of one frame loop iteration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	boxesPerDetection = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framescan_boxes_per_detection",
			Help:    "Number of boxes kept per retained detection",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_runs_total",
			Help: "Finished video runs, by final state",
		},
		[]string{"status"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_events_dropped_total",
			Help: "Events not delivered to a subscriber, by event type",
		},
		[]string{"type"},
	)

	subscribersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framescan_event_subscribers_evicted_total",
			Help: "Subscribers removed after stalling on a lifecycle event",
		},
	)
)
