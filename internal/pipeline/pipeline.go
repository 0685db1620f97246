package pipeline

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/models"
	"github.com/MeKo-Tech/framescan/internal/utils"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// DefaultSimilarityThreshold is the mean 8-bit pixel difference below
// which consecutive frames count as unchanged.
const DefaultSimilarityThreshold = 5.0

// Config holds configuration for the video pipeline and its components.
type Config struct {
	ModelsDir           string
	Detector            detector.Config
	Video               video.Options
	SimilarityThreshold float64
	DrawOverlay         bool
	OverlayColor        string // hex, empty means green
	OverlayThickness    int
	Progress            ProgressCallback
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir:           models.GetModelsDir(""),
		Detector:            detector.DefaultConfig(),
		SimilarityThreshold: DefaultSimilarityThreshold,
		DrawOverlay:         true,
		OverlayThickness:    detector.DefaultOverlayThickness,
	}
}

// Builder constructs an Orchestrator with fluent configuration.
type Builder struct {
	cfg Config
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts a builder from a complete configuration.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithModelsDir sets the models directory and updates the detector model path.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	b.cfg.Detector.UpdateModelPath(b.cfg.ModelsDir)
	return b
}

// WithDetectorModelPath overrides the detector model path directly.
func (b *Builder) WithDetectorModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
	}
	return b
}

// WithVariant switches the detector family and its default model file.
func (b *Builder) WithVariant(v detector.Variant) *Builder {
	b.cfg.Detector.Variant = v
	b.cfg.Detector.UpdateModelPath(b.cfg.ModelsDir)
	return b
}

// WithConfidence sets the decode score gate.
func (b *Builder) WithConfidence(threshold float32) *Builder {
	b.cfg.Detector.ConfidenceThreshold = threshold
	return b
}

// WithNMS sets the IoU threshold and the NMS score bound (0 = confidence).
func (b *Builder) WithNMS(iou float64, scoreThreshold float32) *Builder {
	b.cfg.Detector.NMSThreshold = iou
	b.cfg.Detector.NMSScoreThreshold = scoreThreshold
	return b
}

// WithSimilarityThreshold sets the frame skip threshold.
func (b *Builder) WithSimilarityThreshold(threshold float64) *Builder {
	b.cfg.SimilarityThreshold = threshold
	return b
}

// WithOverlay configures drawing of kept boxes on detection frames.
func (b *Builder) WithOverlay(enabled bool, hexColor string, thickness int) *Builder {
	b.cfg.DrawOverlay = enabled
	b.cfg.OverlayColor = hexColor
	if thickness > 0 {
		b.cfg.OverlayThickness = thickness
	}
	return b
}

// WithThreads sets the number of intra-op threads for inference.
func (b *Builder) WithThreads(n int) *Builder {
	if n >= 0 {
		b.cfg.Detector.NumThreads = n
	}
	return b
}

// WithWarmupIterations sets detector warmup passes.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.Detector.WarmupIterations = n
	}
	return b
}

// WithGPU enables CUDA acceleration.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Detector.GPU.UseGPU = enabled
	return b
}

// WithGPUDevice selects the CUDA device.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	b.cfg.Detector.GPU.DeviceID = deviceID
	return b
}

// WithGPUMemoryLimit caps GPU memory in bytes (0 = unlimited).
func (b *Builder) WithGPUMemoryLimit(limitBytes uint64) *Builder {
	b.cfg.Detector.GPU.GPUMemLimit = limitBytes
	return b
}

// WithVideoOptions sets ffmpeg locations and sequence frame rate.
func (b *Builder) WithVideoOptions(opts video.Options) *Builder {
	b.cfg.Video = opts
	return b
}

// WithProgressCallback sets the progress reporter.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Progress = callback
	return b
}

// Config returns the accumulated configuration.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the accumulated configuration.
func (b *Builder) Validate() error { return b.cfg.Validate() }

// Validate checks pipeline settings and the detector configuration.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 {
		return fmt.Errorf("similarity threshold must be non-negative, got %f", c.SimilarityThreshold)
	}
	if c.OverlayThickness < 0 {
		return fmt.Errorf("overlay thickness must be non-negative, got %d", c.OverlayThickness)
	}
	if _, err := c.overlayColor(); err != nil {
		return err
	}
	return c.Detector.Validate()
}

func (c Config) overlayColor() (color.Color, error) {
	if c.OverlayColor == "" {
		return nil, nil
	}
	col, err := utils.ParseHexColor(c.OverlayColor)
	if err != nil {
		return nil, fmt.Errorf("overlay color: %w", err)
	}
	return col, nil
}

// Options derives orchestrator options from the configuration.
func (c Config) Options() (Options, error) {
	col, err := c.overlayColor()
	if err != nil {
		return Options{}, err
	}
	return Options{
		SimilarityThreshold: c.SimilarityThreshold,
		DrawOverlay:         c.DrawOverlay,
		OverlayColor:        col,
		OverlayThickness:    c.OverlayThickness,
		ModelPath:           c.Detector.ModelPath,
		Opener:              video.NewOpener(c.Video),
		Progress:            c.Progress,
	}, nil
}

// Pipeline bundles an orchestrator with the detector it owns.
type Pipeline struct {
	*Orchestrator
	Detector *detector.Detector
}

// Build loads the detector and returns a ready pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := b.cfg.Options()
	if err != nil {
		return nil, err
	}
	det, err := detector.NewDetector(b.cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}
	return &Pipeline{Orchestrator: NewOrchestrator(det, opts), Detector: det}, nil
}

// Close releases the detector.
func (p *Pipeline) Close() error {
	if p == nil || p.Detector == nil {
		return errors.New("pipeline not initialized")
	}
	return p.Detector.Close()
}
