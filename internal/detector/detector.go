package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/framescan/internal/onnx"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

// eastAlign is the EAST input alignment; its maps are 4x smaller and the
// backbone down-samples five times.
const eastAlign = 32

// DefaultOverlayThickness is the stroke width of drawn boxes.
const DefaultOverlayThickness = 2

// DetectOptions adjusts a single Detect call.
type DetectOptions struct {
	// Confidence replaces Config.ConfidenceThreshold for the decode gate.
	Confidence *float32
	// NMSScoreThreshold replaces the NMS lower score bound.
	NMSScoreThreshold *float32
	// DrawOverlay draws the kept boxes onto Result.Frame.
	DrawOverlay bool
	// Color of the overlay; nil means green.
	Color color.Color
	// Thickness of the overlay; <= 0 means DefaultOverlayThickness.
	Thickness int
}

// Result is the outcome of detecting text in one frame.
type Result struct {
	// Boxes are the kept boxes in Frame coordinates, best score first.
	Boxes []utils.BoundingBox
	// Kept carries the scores of Boxes.
	Kept []Candidate
	// CandidateCount is the number of decoded boxes before suppression.
	CandidateCount int
	// Frame is the working frame the boxes refer to. For EAST it is the
	// input shrunk to a multiple of 32.
	Frame *image.NRGBA

	PreprocessTime time.Duration
	InferenceTime  time.Duration
	DecodeTime     time.Duration
}

// Detector performs text detection with an Engine.
type Detector struct {
	config Config
	engine Engine
	mu     sync.RWMutex
}

// NewDetector creates a detector backed by ONNX Runtime.
func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("Initializing detector",
		"model_path", config.ModelPath,
		"variant", config.Variant,
		"confidence", config.ConfidenceThreshold,
		"nms_threshold", config.NMSThreshold,
		"gpu_enabled", config.GPU.UseGPU)

	engine, err := NewONNXEngine(config)
	if err != nil {
		return nil, err
	}
	d := NewDetectorWithEngine(config, engine)

	if config.WarmupIterations > 0 {
		if err := d.Warmup(context.Background(), config.WarmupIterations); err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("warmup failed: %w", err)
		}
	}
	slog.Debug("Detector initialized successfully")
	return d, nil
}

// NewDetectorWithEngine wires a detector to an existing engine.
func NewDetectorWithEngine(config Config, engine Engine) *Detector {
	if config.Variant == "" {
		config.Variant = VariantEAST
	}
	return &Detector{config: config, engine: engine}
}

// Close releases the engine.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine == nil {
		return nil
	}
	err := d.engine.Close()
	d.engine = nil
	return err
}

// GetConfig returns a copy of the detector's configuration.
func (d *Detector) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

type prepared struct {
	frame  *image.NRGBA
	blob   onnx.Tensor
	scaleX float32
	scaleY float32
}

// preprocess builds the working frame and the input blob.
func (d *Detector) preprocess(img image.Image) (prepared, error) {
	if d.config.Variant == VariantTextBoxes {
		frame := utils.ToNRGBA(img)
		in, err := utils.ResizeExact(img, d.config.InputWidth, d.config.InputHeight)
		if err != nil {
			return prepared{}, err
		}
		blob, err := onnx.NewBlobTensor(in, d.config.BlobOptions())
		if err != nil {
			return prepared{}, err
		}
		b := frame.Bounds()
		return prepared{
			frame:  frame,
			blob:   blob,
			scaleX: float32(b.Dx()) / float32(d.config.InputWidth),
			scaleY: float32(b.Dy()) / float32(d.config.InputHeight),
		}, nil
	}

	frame, err := utils.ResizeToMultiple(img, eastAlign)
	if err != nil {
		return prepared{}, err
	}
	blob, err := onnx.NewBlobTensor(frame, d.config.BlobOptions())
	if err != nil {
		return prepared{}, err
	}
	return prepared{frame: frame, blob: blob, scaleX: 1, scaleY: 1}, nil
}

// Detect runs preprocessing, inference, decode and suppression on img.
func (d *Detector) Detect(ctx context.Context, img image.Image, opts DetectOptions) (*Result, error) {
	if img == nil {
		return nil, utils.ErrNilImage
	}
	d.mu.RLock()
	engine := d.engine
	config := d.config
	d.mu.RUnlock()
	if engine == nil {
		return nil, errors.New("detector is closed")
	}

	start := time.Now()
	prep, err := d.preprocess(img)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	defer prep.blob.Release()
	preprocessTime := time.Since(start)

	start = time.Now()
	raw, err := engine.Infer(ctx, prep.blob)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	inferenceTime := time.Since(start)

	if flat, ok := raw.(FlatDetections); ok {
		if flat.ScaleX == 0 {
			flat.ScaleX = prep.scaleX
		}
		if flat.ScaleY == 0 {
			flat.ScaleY = prep.scaleY
		}
		raw = flat
	}

	confidence := config.ConfidenceThreshold
	if opts.Confidence != nil {
		confidence = *opts.Confidence
	}
	nmsScore := confidence
	if config.NMSScoreThreshold > 0 {
		nmsScore = config.NMSScoreThreshold
	}
	if opts.NMSScoreThreshold != nil {
		nmsScore = *opts.NMSScoreThreshold
	}

	start = time.Now()
	b := prep.frame.Bounds()
	candidates, err := Decode(raw, b.Dx(), b.Dy(), confidence)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	kept := SuppressCandidates(candidates, nmsScore, config.NMSThreshold)
	decodeTime := time.Since(start)

	boxes := make([]utils.BoundingBox, len(kept))
	for i, c := range kept {
		boxes[i] = c.Box
	}
	if opts.DrawOverlay {
		thickness := opts.Thickness
		if thickness <= 0 {
			thickness = DefaultOverlayThickness
		}
		utils.DrawBoxes(prep.frame, boxes, opts.Color, thickness)
	}

	slog.Debug("Frame detected",
		"candidates", len(candidates),
		"kept", len(kept),
		"preprocess", preprocessTime,
		"inference", inferenceTime,
		"decode", decodeTime)

	return &Result{
		Boxes:          boxes,
		Kept:           kept,
		CandidateCount: len(candidates),
		Frame:          prep.frame,
		PreprocessTime: preprocessTime,
		InferenceTime:  inferenceTime,
		DecodeTime:     decodeTime,
	}, nil
}
