package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func isolateSearchPaths(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framescan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_DefaultsWithoutFile(t *testing.T) {
	isolateSearchPaths(t)
	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoader_File(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
detector:
  variant: textboxes
  confidence_threshold: 0.65
  mean: [1, 2, 3]
pipeline:
  similarity_threshold: 12.5
  overlay_color: "#112233"
server:
  port: 9090
`)
	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "textboxes", cfg.Detector.Variant)
	assert.InDelta(t, 0.65, cfg.Detector.ConfidenceThreshold, 1e-6)
	assert.Equal(t, [3]float32{1, 2, 3}, cfg.Detector.Mean)
	assert.InDelta(t, 12.5, cfg.Pipeline.SimilarityThreshold, 1e-9)
	assert.Equal(t, "#112233", cfg.Pipeline.OverlayColor)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Unset keys keep their defaults.
	assert.InDelta(t, 0.4, cfg.Detector.NMSThreshold, 1e-9)
	assert.Equal(t, "ffmpeg", cfg.Video.FFmpegPath)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "detector:\n  confidence_threshold: 0.65\n")
	t.Setenv("FRAMESCAN_DETECTOR_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("FRAMESCAN_SERVER_PORT", "7000")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cfg.Detector.ConfidenceThreshold, 1e-6)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoader_InvalidFile(t *testing.T) {
	path := writeConfig(t, "detector:\n  confidence_threshold: 3\n")
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	assert.ErrorContains(t, err, "validation failed")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(path)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, cfg.Detector.ConfidenceThreshold, 1e-6)
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoader_MalformedFile(t *testing.T) {
	path := writeConfig(t, "detector: [unclosed\n")
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	assert.Error(t, err)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "framescan.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	data, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)
	var round Config
	require.NoError(t, yaml.Unmarshal(data, &round))
	assert.Equal(t, DefaultConfig(), round)

	// The generated file loads back unchanged.
	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)

	assert.ErrorContains(t, GenerateDefaultConfigFile(path), "already exists")
}

func TestGetConfigSearchPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg"))

	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, home)
	assert.Contains(t, paths, filepath.Join(home, "xdg", "framescan"))
	assert.Equal(t, "/etc/framescan", paths[len(paths)-1])
}
