// Package models resolves detector model files on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	DetectionEAST      = "frozen_east_text_detection.onnx"
	DetectionTextBoxes = "textboxes_plusplus.onnx"
)

// Model variants, matching the detector's decode modes.
const (
	VariantEAST      = "east"
	VariantTextBoxes = "textboxes"
)

// TypeDetection is the subdirectory holding detection models.
const TypeDetection = "detection"

// DefaultModelsDir is used relative to the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "FRAMESCAN_MODELS_DIR"

// ErrUnknownVariant is returned for a variant with no known model file.
var ErrUnknownVariant = errors.New("unknown model variant")

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string `json:"name"`
	Variant     string `json:"variant"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
}

// GetModelsDir returns the models directory.
// Priority: explicit modelsDir, then EnvModelsDir, then <project root>/models.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/detection/<filename> and falls back to a
// flat <dir>/<filename> layout when the organized file is missing.
func ResolveModelPath(modelsDir, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	organized := filepath.Join(baseDir, TypeDetection, filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(baseDir, filename)
}

// FilenameForVariant maps a detector variant to its model file name.
func FilenameForVariant(variant string) (string, error) {
	switch variant {
	case VariantEAST, "":
		return DetectionEAST, nil
	case VariantTextBoxes:
		return DetectionTextBoxes, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}

// GetDetectionModelPath returns the model path for a variant. Unknown
// variants fall back to EAST.
func GetDetectionModelPath(modelsDir, variant string) string {
	filename, err := FilenameForVariant(variant)
	if err != nil {
		filename = DetectionEAST
	}
	return ResolveModelPath(modelsDir, filename)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the known detection models.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "east",
			Variant:     VariantEAST,
			Description: "EAST scene text detector (score + geometry maps)",
			Filename:    DetectionEAST,
		},
		{
			Name:        "textboxes-plusplus",
			Variant:     VariantTextBoxes,
			Description: "TextBoxes++ oriented text detector (flat detections)",
			Filename:    DetectionTextBoxes,
		},
	}
}
