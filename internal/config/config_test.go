package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/models"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "east", cfg.Detector.Variant)
	assert.InDelta(t, 0.5, cfg.Detector.ConfidenceThreshold, 1e-6)
	assert.InDelta(t, 0.4, cfg.Detector.NMSThreshold, 1e-9)
	assert.InDelta(t, 5.0, cfg.Pipeline.SimilarityThreshold, 1e-9)
	assert.Equal(t, [3]float32{104, 117, 123}, cfg.Detector.Mean)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"output format", func(c *Config) { c.Output.Format = "xml" }},
		{"batch workers", func(c *Config) { c.Batch.Workers = -1 }},
		{"job ttl", func(c *Config) { c.Server.JobTTLSec = -1 }},
		{"finished jobs", func(c *Config) { c.Server.MaxFinishedJobs = -5 }},
		{"variant", func(c *Config) { c.Detector.Variant = "yolo" }},
		{"confidence", func(c *Config) { c.Detector.ConfidenceThreshold = 1.5 }},
		{"nms", func(c *Config) { c.Detector.NMSThreshold = -0.1 }},
		{"nms score", func(c *Config) { c.Detector.NMSScoreThreshold = 2 }},
		{"threads", func(c *Config) { c.Detector.NumThreads = -1 }},
		{"input size", func(c *Config) { c.Detector.InputWidth = 0 }},
		{"similarity", func(c *Config) { c.Pipeline.SimilarityThreshold = 300 }},
		{"thickness", func(c *Config) { c.Pipeline.OverlayThickness = -2 }},
		{"event buffer", func(c *Config) { c.Pipeline.EventBuffer = -1 }},
		{"sequence fps", func(c *Config) { c.Video.SequenceFPS = -25 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }},
		{"rate limit", func(c *Config) { c.Server.RequestsPerMinute = -1 }},
		{"gpu memory", func(c *Config) { c.GPU.MemoryLimit = "lots" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		err  bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"AUTO", 0, false},
		{"512MB", 512 << 20, false},
		{"2GB", 2 << 30, false},
		{"1024", 1024, false},
		{"many", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMemoryLimit(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestToPipelineConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ModelsDir = dir
	cfg.Detector.Variant = "textboxes"
	cfg.Detector.ConfidenceThreshold = 0.3
	cfg.Detector.NMSScoreThreshold = 0.2
	cfg.Detector.ScoreOutput = "scores"
	cfg.Pipeline.SimilarityThreshold = 8
	cfg.Pipeline.OverlayColor = "#ff00ff"
	cfg.Video.FFmpegPath = "/opt/ffmpeg"
	cfg.GPU.Enabled = true
	cfg.GPU.Device = 1
	cfg.GPU.MemoryLimit = "1GB"

	pc := cfg.ToPipelineConfig()
	assert.Equal(t, dir, pc.ModelsDir)
	assert.Equal(t, detector.VariantTextBoxes, pc.Detector.Variant)
	assert.Equal(t, models.GetDetectionModelPath(dir, models.VariantTextBoxes), pc.Detector.ModelPath)
	assert.InDelta(t, 0.3, pc.Detector.ConfidenceThreshold, 1e-6)
	assert.InDelta(t, 0.2, pc.Detector.EffectiveNMSScoreThreshold(), 1e-6)
	assert.Equal(t, "scores", pc.Detector.ScoreOutput)
	assert.InDelta(t, 8.0, pc.SimilarityThreshold, 1e-9)
	assert.Equal(t, "#ff00ff", pc.OverlayColor)
	assert.Equal(t, "/opt/ffmpeg", pc.Video.FFmpegPath)
	assert.True(t, pc.Detector.GPU.UseGPU)
	assert.Equal(t, 1, pc.Detector.GPU.DeviceID)
	assert.Equal(t, uint64(1<<30), pc.Detector.GPU.GPUMemLimit)
	require.NoError(t, pc.Validate())
}

func TestToPipelineConfig_ExplicitModelPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.ModelPath = "/models/custom.onnx"
	assert.Equal(t, "/models/custom.onnx", cfg.ToPipelineConfig().Detector.ModelPath)
}
