package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	detector    pipeline.FrameDetector
	closer      func() error
	options     pipeline.Options
	single      *pipeline.Orchestrator
	jobs        *jobRegistry
	modelsDir   string
	corsOrigin  string
	maxUploadMB int64
	eventBuffer int
	rateLimiter *RateLimiter
	mediaDir    string
}

// RateLimitConfig holds per-client limits for the upload endpoints.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	EventBuffer    int
	PipelineConfig pipeline.Config
	RateLimit      RateLimitConfig

	// MediaDir confines job paths; empty means the working directory.
	MediaDir string

	// JobTTL is how long a finished job stays queryable; 0 keeps it until
	// MaxFinishedJobs pushes it out or it is deleted.
	JobTTL time.Duration

	// MaxFinishedJobs caps finished jobs kept in memory; 0 means no cap.
	MaxFinishedJobs int
}

// Addr returns the listen address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
	Jobs    int    `json:"jobs"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Variant     string `json:"variant"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// FrameResult is the JSON body of a single-frame detection.
type FrameResult struct {
	ID         string              `json:"id"`
	Width      int                 `json:"width"`
	Height     int                 `json:"height"`
	Boxes      []utils.BoundingBox `json:"boxes"`
	Processing struct {
		TotalMs int64 `json:"total_ms"`
	} `json:"processing"`
}

type FrameResponse struct {
	Success bool         `json:"success"`
	Result  *FrameResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// JobRequest starts a video run on a path readable by the server.
type JobRequest struct {
	Path string `json:"path"`
}

// JobResponse describes a job and its current progress.
type JobResponse struct {
	ID        string            `json:"id"`
	Path      string            `json:"path"`
	CreatedAt time.Time         `json:"created_at"`
	Snapshot  pipeline.Snapshot `json:"snapshot"`
}

type JobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

type DetectionsResponse struct {
	JobID      string               `json:"job_id"`
	Detections []pipeline.Detection `json:"detections"`
	Count      int                  `json:"count"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer loads the detector and creates a server around it.
func NewServer(config Config) (*Server, error) {
	opts, err := config.PipelineConfig.Options()
	if err != nil {
		return nil, err
	}
	pl, err := pipeline.NewBuilderFromConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, err
	}
	s := NewServerWithDetector(pl.Detector, opts, config)
	s.closer = pl.Close
	return s, nil
}

// NewServerWithDetector creates a server around an existing detector. The
// caller keeps ownership of det.
func NewServerWithDetector(det pipeline.FrameDetector, opts pipeline.Options, config Config) *Server {
	s := &Server{
		detector:    det,
		options:     opts,
		single:      pipeline.NewOrchestrator(det, opts),
		jobs:        newJobRegistry(config.JobTTL, config.MaxFinishedJobs),
		modelsDir:   config.PipelineConfig.ModelsDir,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		eventBuffer: config.EventBuffer,
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 50
	}
	if s.eventBuffer <= 0 {
		s.eventBuffer = 64
	}
	if root, err := mediaRoot(config.MediaDir); err == nil {
		s.mediaDir = root
	} else {
		slog.Warn("Falling back to working directory for media", "media_dir", config.MediaDir, "error", err)
		s.mediaDir = "."
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s
}

// Close cancels running jobs and releases the detector.
func (s *Server) Close() error {
	s.jobs.cancelAll()
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/detect/frame", s.corsMiddleware(s.rateLimitMiddleware(s.detectFrameHandler)))
	mux.HandleFunc("/jobs", s.corsMiddleware(s.rateLimitMiddleware(s.jobsHandler)))
	mux.HandleFunc("/jobs/detections", s.corsMiddleware(s.jobDetectionsHandler))
	mux.HandleFunc("/jobs/frame", s.corsMiddleware(s.jobFrameHandler))
	mux.HandleFunc("/ws/jobs", s.jobEventsWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) uploadLimit() int64 { return s.maxUploadMB * 1024 * 1024 }
