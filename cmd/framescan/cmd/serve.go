package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/framescan/internal/config"
	"github.com/MeKo-Tech/framescan/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the detection API",
	Long: `Start an HTTP server that provides REST API endpoints for text detection.

The server provides the following endpoints:
  POST   /detect/frame     - Detect text in an uploaded image
  POST   /jobs             - Start processing a video path under --media-dir
  GET    /jobs             - List jobs, or one job with ?id=
  DELETE /jobs?id=         - Cancel and forget a job
  GET    /jobs/detections  - Detections of a job
  GET    /jobs/frame       - Annotated frame of a detection (PNG)
  GET    /ws/jobs?id=      - Job events over WebSocket
  GET    /health           - Health check endpoint
  GET    /models           - List available models
  GET    /metrics          - Prometheus metrics

Examples:
  framescan serve
  framescan serve --port 8080
  framescan serve --host 0.0.0.0 --port 3000`,
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, []flagBinding{
			{"server.host", "host"},
			{"server.port", "port"},
			{"server.cors_origin", "cors-origin"},
			{"server.max_upload_mb", "max-upload-size"},
			{"server.timeout_sec", "timeout"},
			{"server.shutdown_timeout", "shutdown-timeout"},
			{"server.media_dir", "media-dir"},
			{"server.job_ttl_sec", "job-ttl"},
			{"server.max_finished_jobs", "max-finished-jobs"},
			{"server.rate_limit_enabled", "rate-limit-enabled"},
			{"server.requests_per_minute", "requests-per-minute"},
			{"server.requests_per_hour", "requests-per-hour"},
			{"server.max_requests_per_day", "max-requests-per-day"},
			{"server.max_data_per_day", "max-data-per-day"},
			{"detector.variant", "variant"},
			{"detector.model_path", "det-model"},
			{"detector.confidence_threshold", "confidence"},
			{"pipeline.similarity_threshold", "similarity"},
		})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
		}

		srv, err := server.NewServer(serverConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, srv, cfg.Server)
	},
}

// serverConfig maps the loaded configuration onto server.Config.
func serverConfig(cfg *config.Config) server.Config {
	s := cfg.Server
	return server.Config{
		Host:            s.Host,
		Port:            s.Port,
		CORSOrigin:      s.CORSOrigin,
		MaxUploadMB:     int64(s.MaxUploadMB),
		TimeoutSec:      s.TimeoutSec,
		EventBuffer:     cfg.Pipeline.EventBuffer,
		PipelineConfig:  cfg.ToPipelineConfig(),
		MediaDir:        s.MediaDir,
		JobTTL:          time.Duration(s.JobTTLSec) * time.Second,
		MaxFinishedJobs: s.MaxFinishedJobs,
		RateLimit: server.RateLimitConfig{
			Enabled:           s.RateLimitEnabled,
			RequestsPerMinute: s.RequestsPerMinute,
			RequestsPerHour:   s.RequestsPerHour,
			MaxRequestsPerDay: s.MaxRequestsPerDay,
			MaxDataPerDay:     s.MaxDataPerDay,
		},
	}
}

// serve runs the HTTP server until ctx is done or listening fails, then
// shuts down gracefully.
func serve(ctx context.Context, srv *server.Server, sc config.ServerConfig) error {
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	timeout := time.Duration(sc.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("Starting framescan server", "host", sc.Host, "port", sc.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-listenErr:
		if err != nil {
			slog.Error("Server error", "error", err)
			runErr = err
		}
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", sc.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(sc.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}
	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	} else {
		slog.Info("Server cleanup completed")
	}
	slog.Info("Graceful shutdown completed")
	return runErr
}

func init() {
	rootCmd.AddCommand(serveCmd)
	d := config.DefaultConfig()
	serveCmd.Flags().StringP("host", "H", d.Server.Host, "server host")
	serveCmd.Flags().IntP("port", "p", d.Server.Port, "server port")
	serveCmd.Flags().String("cors-origin", d.Server.CORSOrigin, "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", d.Server.MaxUploadMB, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", d.Server.TimeoutSec, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", d.Server.ShutdownTimeout, "shutdown timeout in seconds")
	serveCmd.Flags().String("media-dir", d.Server.MediaDir, "directory that job paths are confined to")
	serveCmd.Flags().Int("job-ttl", d.Server.JobTTLSec, "seconds a finished job stays queryable (0 = until evicted by count)")
	serveCmd.Flags().Int("max-finished-jobs", d.Server.MaxFinishedJobs, "finished jobs kept in memory (0 = no limit)")
	serveCmd.Flags().String("variant", d.Detector.Variant, "detector model: east or textboxes")
	serveCmd.Flags().String("det-model", "", "override detection model path")
	serveCmd.Flags().Float64("confidence", float64(d.Detector.ConfidenceThreshold), "minimum detection confidence (0..1)")
	serveCmd.Flags().Float64("similarity", d.Pipeline.SimilarityThreshold, "similarity threshold for video jobs")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", d.Server.RateLimitEnabled, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", d.Server.RequestsPerMinute, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", d.Server.RequestsPerHour, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", d.Server.MaxRequestsPerDay, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", d.Server.MaxDataPerDay, "maximum data processed per day per client (bytes)")
}
