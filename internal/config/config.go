package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	units "github.com/docker/go-units"

	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/models"
	"github.com/MeKo-Tech/framescan/internal/onnx"
	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Detector: DetectorConfig{
			Variant:             string(det.Variant),
			ConfidenceThreshold: det.ConfidenceThreshold,
			NMSThreshold:        det.NMSThreshold,
			NMSScoreThreshold:   det.NMSScoreThreshold,
			NumThreads:          det.NumThreads,
			InputWidth:          det.InputWidth,
			InputHeight:         det.InputHeight,
			Mean:                det.Mean,
			Scale:               det.Scale,
			SwapRB:              det.SwapRB,
			WarmupIterations:    det.WarmupIterations,
		},
		Pipeline: PipelineConfig{
			SimilarityThreshold: pipeline.DefaultSimilarityThreshold,
			DrawOverlay:         true,
			OverlayColor:        "#00FF00",
			OverlayThickness:    detector.DefaultOverlayThickness,
			EventBuffer:         64,
		},
		Video: VideoConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			SequenceFPS: 25,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Batch: BatchConfig{
			Workers: 1,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			MediaDir:        ".",
			JobTTLSec:       3600,
			MaxFinishedJobs: 100,

			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     100 << 20,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if _, err := detector.ParseVariant(c.Detector.Variant); err != nil {
		return fmt.Errorf("invalid detector.variant: %w", err)
	}
	if err := validateThreshold(float64(c.Detector.ConfidenceThreshold), "detector.confidence_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detector.NMSThreshold, "detector.nms_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(float64(c.Detector.NMSScoreThreshold), "detector.nms_score_threshold"); err != nil {
		return err
	}
	if c.Detector.NumThreads < 0 {
		return fmt.Errorf("invalid detector.num_threads: %d (must be non-negative)", c.Detector.NumThreads)
	}
	if c.Detector.InputWidth <= 0 || c.Detector.InputHeight <= 0 {
		return fmt.Errorf("invalid detector input size: %dx%d (must be positive)", c.Detector.InputWidth, c.Detector.InputHeight)
	}

	if c.Pipeline.SimilarityThreshold < 0 || c.Pipeline.SimilarityThreshold > 255 {
		return fmt.Errorf("invalid pipeline.similarity_threshold: %.2f (must be between 0 and 255)", c.Pipeline.SimilarityThreshold)
	}
	if c.Pipeline.OverlayThickness < 0 {
		return fmt.Errorf("invalid pipeline.overlay_thickness: %d (must be non-negative)", c.Pipeline.OverlayThickness)
	}
	if c.Pipeline.EventBuffer < 0 {
		return fmt.Errorf("invalid pipeline.event_buffer: %d (must be non-negative)", c.Pipeline.EventBuffer)
	}
	if c.Batch.Workers < 0 {
		return fmt.Errorf("invalid batch.workers: %d (must be non-negative)", c.Batch.Workers)
	}
	if c.Video.SequenceFPS < 0 {
		return fmt.Errorf("invalid video.sequence_fps: %.2f (must be non-negative)", c.Video.SequenceFPS)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	if c.Server.JobTTLSec < 0 || c.Server.MaxFinishedJobs < 0 {
		return errors.New("invalid job retention: server.job_ttl_sec and server.max_finished_jobs must be non-negative")
	}

	if c.Server.RequestsPerMinute < 0 || c.Server.RequestsPerHour < 0 ||
		c.Server.MaxRequestsPerDay < 0 || c.Server.MaxDataPerDay < 0 {
		return errors.New("invalid rate limits: values must be non-negative")
	}

	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = models.GetModelsDir(c.ModelsDir)
	cfg.Detector = c.toDetectorConfig()
	cfg.Video = video.Options{
		FFmpegPath:  c.Video.FFmpegPath,
		FFprobePath: c.Video.FFprobePath,
		SequenceFPS: c.Video.SequenceFPS,
	}
	cfg.SimilarityThreshold = c.Pipeline.SimilarityThreshold
	cfg.DrawOverlay = c.Pipeline.DrawOverlay
	cfg.OverlayColor = c.Pipeline.OverlayColor
	cfg.OverlayThickness = c.Pipeline.OverlayThickness
	return cfg
}

// toDetectorConfig converts to detector.Config. The model path follows the
// variant under models_dir unless set explicitly.
func (c *Config) toDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	if v, err := detector.ParseVariant(c.Detector.Variant); err == nil {
		cfg.Variant = v
	}
	cfg.UpdateModelPath(c.ModelsDir)
	if c.Detector.ModelPath != "" {
		cfg.ModelPath = c.Detector.ModelPath
	}
	cfg.ConfidenceThreshold = c.Detector.ConfidenceThreshold
	cfg.NMSThreshold = c.Detector.NMSThreshold
	cfg.NMSScoreThreshold = c.Detector.NMSScoreThreshold
	cfg.NumThreads = c.Detector.NumThreads
	cfg.InputWidth = c.Detector.InputWidth
	cfg.InputHeight = c.Detector.InputHeight
	cfg.Mean = c.Detector.Mean
	cfg.Scale = c.Detector.Scale
	cfg.SwapRB = c.Detector.SwapRB
	cfg.ScoreOutput = c.Detector.ScoreOutput
	cfg.GeometryOutput = c.Detector.GeometryOutput
	cfg.WarmupIterations = c.Detector.WarmupIterations
	cfg.GPU = c.toGPUConfig()
	return cfg
}

func (c *Config) toGPUConfig() onnx.GPUConfig {
	limit, _ := ParseMemoryLimit(c.GPU.MemoryLimit)
	return onnx.GPUConfig{
		UseGPU:      c.GPU.Enabled,
		DeviceID:    c.GPU.Device,
		GPUMemLimit: limit,
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ParseMemoryLimit converts a GPU memory limit such as "512MB" or "2GB" to
// bytes. "auto" and the empty string mean no limit.
func ParseMemoryLimit(limit string) (uint64, error) {
	limit = strings.TrimSpace(limit)
	if limit == "" || strings.EqualFold(limit, "auto") {
		return 0, nil
	}
	n, err := units.RAMInBytes(limit)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("memory limit must be non-negative: %s", limit)
	}
	return uint64(n), nil
}
