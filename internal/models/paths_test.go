package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	tests := []struct {
		name        string
		explicitDir string
		envVar      string
		expected    string
	}{
		{"explicit directory takes precedence", "/explicit/path", "/env/path", "/explicit/path"},
		{"environment variable used when no explicit dir", "", "/env/path", "/env/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvModelsDir, tt.envVar)
			assert.Equal(t, tt.expected, GetModelsDir(tt.explicitDir))
		})
	}
}

func TestGetModelsDir_ProjectRootDefault(t *testing.T) {
	t.Setenv(EnvModelsDir, "")
	got := GetModelsDir("")
	assert.Equal(t, DefaultModelsDir, filepath.Base(got))
}

func TestResolveModelPath(t *testing.T) {
	dir := t.TempDir()

	// flat layout when the organized file is missing
	assert.Equal(t, filepath.Join(dir, DetectionEAST), ResolveModelPath(dir, DetectionEAST))

	organized := filepath.Join(dir, TypeDetection, DetectionEAST)
	require.NoError(t, os.MkdirAll(filepath.Dir(organized), 0o750))
	require.NoError(t, os.WriteFile(organized, []byte("onnx"), 0o600))
	assert.Equal(t, organized, ResolveModelPath(dir, DetectionEAST))
}

func TestFilenameForVariant(t *testing.T) {
	name, err := FilenameForVariant(VariantEAST)
	require.NoError(t, err)
	assert.Equal(t, DetectionEAST, name)

	name, err = FilenameForVariant(VariantTextBoxes)
	require.NoError(t, err)
	assert.Equal(t, DetectionTextBoxes, name)

	_, err = FilenameForVariant("yolo")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestGetDetectionModelPath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, DetectionTextBoxes), GetDetectionModelPath(dir, VariantTextBoxes))
	assert.Equal(t, filepath.Join(dir, DetectionEAST), GetDetectionModelPath(dir, "bogus"))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, ValidateModelExists(filepath.Join(dir, "missing.onnx")))

	p := filepath.Join(dir, "m.onnx")
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	assert.NoError(t, ValidateModelExists(p))
}

func TestListAvailableModels(t *testing.T) {
	list := ListAvailableModels()
	require.Len(t, list, 2)
	assert.Equal(t, VariantEAST, list[0].Variant)
	assert.Equal(t, VariantTextBoxes, list[1].Variant)
}
