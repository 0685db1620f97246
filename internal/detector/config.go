package detector

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MeKo-Tech/framescan/internal/models"
	"github.com/MeKo-Tech/framescan/internal/onnx"
)

// Variant selects the network family and with it the decode path.
type Variant string

const (
	// VariantEAST reads a score map and a geometry map.
	VariantEAST Variant = models.VariantEAST
	// VariantTextBoxes reads one flat detections tensor.
	VariantTextBoxes Variant = models.VariantTextBoxes
)

// ParseVariant accepts the config spelling of a variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantEAST, VariantTextBoxes:
		return Variant(s), nil
	case "":
		return VariantEAST, nil
	default:
		return "", fmt.Errorf("unknown detector variant %q", s)
	}
}

var (
	ErrModelNotFound   = errors.New("model file not found")
	ErrModelUnreadable = errors.New("model file is not readable")
)

// Config holds configuration for the text detector.
type Config struct {
	ModelPath           string  // Path to ONNX detection model
	Variant             Variant // east (default) or textboxes
	ConfidenceThreshold float32 // Decode score gate (default: 0.5)
	NMSThreshold        float64 // IoU above which a lower score box is suppressed (default: 0.4)
	NMSScoreThreshold   float32 // NMS lower score bound; 0 means ConfidenceThreshold
	NumThreads          int     // Intra-op threads (0 = runtime default)

	// TextBoxes++ only: fixed input size and blob normalization.
	InputWidth  int
	InputHeight int
	Mean        [3]float32
	Scale       float32
	SwapRB      bool

	// EAST output names; empty means pick by channel count.
	ScoreOutput    string
	GeometryOutput string

	WarmupIterations int
	GPU              onnx.GPUConfig
}

// DefaultConfig returns the EAST configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:           models.GetDetectionModelPath("", models.VariantEAST),
		Variant:             VariantEAST,
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.4,
		InputWidth:          300,
		InputHeight:         300,
		Mean:                [3]float32{104, 117, 123},
		Scale:               1,
		GPU:                 onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath points ModelPath at the variant's file under modelsDir.
func (c *Config) UpdateModelPath(modelsDir string) {
	c.ModelPath = models.GetDetectionModelPath(modelsDir, string(c.Variant))
}

// EffectiveNMSScoreThreshold is the score bound NMS applies.
func (c Config) EffectiveNMSScoreThreshold() float32 {
	if c.NMSScoreThreshold > 0 {
		return c.NMSScoreThreshold
	}
	return c.ConfidenceThreshold
}

// BlobOptions returns the normalization used to build the input blob.
// EAST runs on raw 0..255 BGR values.
func (c Config) BlobOptions() onnx.BlobOptions {
	if c.Variant == VariantTextBoxes {
		scale := c.Scale
		if scale == 0 {
			scale = 1
		}
		return onnx.BlobOptions{Scale: scale, Mean: c.Mean, SwapRB: c.SwapRB}
	}
	return onnx.DefaultBlobOptions()
}

// Validate checks the configuration without touching the filesystem.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if _, err := ParseVariant(string(c.Variant)); err != nil {
		return err
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0.0 and 1.0, got %f", c.ConfidenceThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("NMS threshold must be between 0.0 and 1.0, got %f", c.NMSThreshold)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads must be non-negative, got %d", c.NumThreads)
	}
	if c.Variant == VariantTextBoxes && (c.InputWidth <= 0 || c.InputHeight <= 0) {
		return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	return c.GPU.Validate()
}

// VerifyModelFileAccess fails fast when the model is missing or unreadable.
func VerifyModelFileAccess(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return fmt.Errorf("%w: %s: %w", ErrModelUnreadable, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelUnreadable, path)
	}
	f, err := os.Open(path) //nolint:gosec // G304: model path comes from configuration
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModelUnreadable, path, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Read(make([]byte, 1)); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %w", ErrModelUnreadable, path, err)
	}
	return nil
}
