package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framescan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Single-frame detection metrics
	frameRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_frame_requests_total",
			Help: "Total number of single-frame detection requests",
		},
		[]string{"status"},
	)

	frameProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framescan_frame_processing_duration_seconds",
			Help:    "Single-frame detection duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framescan_upload_size_bytes",
			Help:    "Size of uploaded frames in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// Job metrics
	jobsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framescan_jobs_started_total",
			Help: "Video jobs started over the API",
		},
	)

	jobsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framescan_jobs_evicted_total",
			Help: "Finished video jobs dropped from memory",
		},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_jobs_finished_total",
			Help: "Video jobs finished, by final state",
		},
		[]string{"state"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // minute, hour, requests, data
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framescan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)
