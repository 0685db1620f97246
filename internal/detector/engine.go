package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/framescan/internal/onnx"
)

// Engine runs the network on one input blob. Implementations own their
// output buffers; the returned tensors stay valid after the call.
type Engine interface {
	Infer(ctx context.Context, input onnx.Tensor) (DecoderInput, error)
	Close() error
}

// ONNXEngine runs a detection model through ONNX Runtime.
type ONNXEngine struct {
	variant     Variant
	session     *onnxruntime_go.DynamicAdvancedSession
	inputInfo   onnxruntime_go.InputOutputInfo
	outputNames []string
	mu          sync.RWMutex
}

// NewONNXEngine loads config.ModelPath and prepares a session.
func NewONNXEngine(config Config) (*ONNXEngine, error) {
	if err := VerifyModelFileAccess(config.ModelPath); err != nil {
		return nil, err
	}
	if err := onnx.InitializeRuntime(config.GPU.UseGPU); err != nil {
		return nil, fmt.Errorf("failed to set up ONNX Runtime: %w", err)
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return nil, fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	outputNames, err := selectOutputs(config, outputs)
	if err != nil {
		return nil, err
	}

	session, err := createSession(config, inputs[0].Name, outputNames)
	if err != nil {
		return nil, err
	}

	slog.Debug("Detection engine ready",
		"model_path", config.ModelPath,
		"variant", config.Variant,
		"input", inputs[0].Name,
		"outputs", outputNames,
		"gpu_enabled", config.GPU.UseGPU)

	return &ONNXEngine{
		variant:     config.Variant,
		session:     session,
		inputInfo:   inputs[0],
		outputNames: outputNames,
	}, nil
}

// selectOutputs picks output names: score then geometry for EAST, the single
// detections output for TextBoxes++.
func selectOutputs(config Config, outputs []onnxruntime_go.InputOutputInfo) ([]string, error) {
	if config.Variant == VariantTextBoxes {
		if len(outputs) < 1 {
			return nil, errors.New("model has no outputs")
		}
		return []string{outputs[0].Name}, nil
	}

	if config.ScoreOutput != "" && config.GeometryOutput != "" {
		return []string{config.ScoreOutput, config.GeometryOutput}, nil
	}
	if len(outputs) < 2 {
		return nil, fmt.Errorf("EAST model needs 2 outputs, got %d", len(outputs))
	}
	score, geometry := outputs[0].Name, outputs[1].Name
	for _, o := range outputs {
		if len(o.Dimensions) != 4 {
			continue
		}
		switch o.Dimensions[1] {
		case 1:
			score = o.Name
		case 5:
			geometry = o.Name
		}
	}
	if config.ScoreOutput != "" {
		score = config.ScoreOutput
	}
	if config.GeometryOutput != "" {
		geometry = config.GeometryOutput
	}
	return []string{score, geometry}, nil
}

func createSession(config Config, inputName string, outputNames []string) (*onnxruntime_go.DynamicAdvancedSession, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			slog.Debug("Failed to destroy session options", "error", err)
		}
	}()

	onnx.ConfigureSessionForGPU(sessionOptions, config.GPU)

	if config.NumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputName}, outputNames, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// InputShape returns the model's declared input shape (may contain -1).
func (e *ONNXEngine) InputShape() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]int64(nil), e.inputInfo.Dimensions...)
}

// Infer runs one forward pass.
func (e *ONNXEngine) Infer(ctx context.Context, input onnx.Tensor) (DecoderInput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := onnx.VerifyImageTensor(input); err != nil {
		return nil, fmt.Errorf("invalid tensor: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return nil, errors.New("detector session is closed")
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			slog.Debug("Failed to destroy input tensor", "error", err)
		}
	}()

	outputs := make([]onnxruntime_go.Value, len(e.outputNames))
	if err := e.session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o == nil {
				continue
			}
			if err := o.Destroy(); err != nil {
				slog.Debug("Failed to destroy output tensor", "error", err)
			}
		}
	}()

	tensors := make([]onnx.Tensor, len(outputs))
	for i, o := range outputs {
		t, err := copyOut(o)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", e.outputNames[i], err)
		}
		tensors[i] = t
	}

	if e.variant == VariantTextBoxes {
		return FlatDetections{Detections: tensors[0]}, nil
	}
	return ScoreGeometry{Scores: tensors[0], Geometry: tensors[1]}, nil
}

// copyOut detaches output data from the runtime-owned buffer.
func copyOut(v onnxruntime_go.Value) (onnx.Tensor, error) {
	ft, ok := v.(*onnxruntime_go.Tensor[float32])
	if !ok {
		return onnx.Tensor{}, fmt.Errorf("%w: output is %T, want float32 tensor", ErrInvalidTensorShape, v)
	}
	shape := ft.GetShape()
	return onnx.Tensor{
		Data:  append([]float32(nil), ft.GetData()...),
		Shape: append([]int64(nil), shape...),
	}, nil
}

// Close releases the session. The ONNX Runtime environment stays up for
// other engines in the process.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy detector session: %w", err)
	}
	return nil
}
