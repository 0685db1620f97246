package detector

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/onnx"
	"github.com/MeKo-Tech/framescan/internal/onnx/mock"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

func eastInput(m *mock.EASTOutput) ScoreGeometry {
	scores, geometry := m.Tensors()
	return ScoreGeometry{Scores: scores, Geometry: geometry}
}

func TestDecode_SingleCellAxisAligned(t *testing.T) {
	// cell (5,5): origin (20,20), 20x10 box ending at right=30, bottom=25
	m := mock.NewEASTOutput(25, 25).SetCell(5, 5, 0.9, 5, 10, 5, 10, 0)

	got, err := Decode(eastInput(m), 100, 100, 0.5)
	require.NoError(t, err)

	want := []Candidate{{Box: utils.BoundingBox{X: 10, Y: 15, Width: 20, Height: 10}, Score: 0.9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}

	boxes := Suppress(got, 0.5, 0.4)
	assert.Equal(t, []utils.BoundingBox{{X: 10, Y: 15, Width: 20, Height: 10}}, boxes)
}

func TestDecode_ThresholdGate(t *testing.T) {
	m := mock.NewEASTOutput(4, 4).
		SetCell(0, 0, 0.49, 2, 2, 2, 2, 0).
		SetCell(1, 0, 0.5, 2, 2, 2, 2, 0).
		SetCell(2, 0, 0.2, 2, 2, 2, 2, 0)

	got, err := Decode(eastInput(m), 16, 16, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.5, got[0].Score, 1e-6)
}

func TestDecode_RowMajorOrder(t *testing.T) {
	m := mock.NewEASTOutput(3, 2).
		SetCell(2, 1, 0.6, 1, 1, 1, 1, 0).
		SetCell(0, 1, 0.7, 1, 1, 1, 1, 0).
		SetCell(1, 0, 0.8, 1, 1, 1, 1, 0)

	got, err := Decode(eastInput(m), 100, 100, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.8, got[0].Score, 1e-6)
	assert.InDelta(t, 0.7, got[1].Score, 1e-6)
	assert.InDelta(t, 0.6, got[2].Score, 1e-6)
}

func TestDecode_ClipsAndDropsOutside(t *testing.T) {
	// box spills past the left/top edge
	m := mock.NewEASTOutput(8, 8).SetCell(0, 0, 0.9, 10, 5, 5, 10, 0)
	got, err := Decode(eastInput(m), 32, 32, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	b := got[0].Box
	assert.GreaterOrEqual(t, b.X, 0)
	assert.GreaterOrEqual(t, b.Y, 0)
	assert.LessOrEqual(t, b.Right(), 32)
	assert.LessOrEqual(t, b.Bottom(), 32)

	// degenerate geometry collapses to nothing
	m = mock.NewEASTOutput(2, 2).SetCell(1, 1, 0.9, 0, 0, 0, 0, 0)
	got, err = Decode(eastInput(m), 32, 32, 0.5)
	require.NoError(t, err)
	assert.Empty(t, got)

	// frame smaller than the box origin
	m = mock.NewEASTOutput(8, 8).SetCell(7, 7, 0.9, 1, 1, 1, 1, 0)
	got, err = Decode(eastInput(m), 10, 10, 0.5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecode_RotatedBoxEnclosesCorners(t *testing.T) {
	angle := float32(math.Pi / 6)
	m := mock.NewEASTOutput(20, 20).SetCell(10, 10, 0.9, 4, 12, 4, 12, angle)
	got, err := Decode(eastInput(m), 200, 200, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	b := got[0].Box
	// a 24x8 box turned by 30 degrees needs a taller and wider enclosing rect
	assert.Greater(t, b.Height, 8)
	assert.GreaterOrEqual(t, b.Width, 24)
}

func TestDecode_ShapeErrors(t *testing.T) {
	good := mock.NewEASTOutput(4, 4)
	scores, geometry := good.Tensors()

	tests := []struct {
		name  string
		input DecoderInput
	}{
		{"score rank", ScoreGeometry{Scores: onnx.Tensor{Data: scores.Data, Shape: []int64{16}}, Geometry: geometry}},
		{"geometry channels", ScoreGeometry{Scores: scores, Geometry: onnx.Tensor{Data: geometry.Data[:64], Shape: []int64{1, 4, 4, 4}}}},
		{"size mismatch", ScoreGeometry{Scores: scores, Geometry: mock.NewEASTOutput(2, 2).GeometryTensor()}},
		{"short data", ScoreGeometry{Scores: onnx.Tensor{Data: scores.Data[:3], Shape: scores.Shape}, Geometry: geometry}},
		{"flat columns", FlatDetections{Detections: onnx.Tensor{Data: make([]float32, 4), Shape: []int64{1, 1, 1, 4}}}},
		{"flat length", FlatDetections{Detections: onnx.Tensor{Data: make([]float32, 5), Shape: []int64{1, 1, 2, 5}}}},
		{"nil pointer", (*ScoreGeometry)(nil)},
		{"nil input", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input, 100, 100, 0.5)
			assert.ErrorIs(t, err, ErrInvalidTensorShape)
		})
	}
}

func TestDecode_FlatDetections(t *testing.T) {
	det := mock.NewFlatDetections(
		mock.FlatDetection{CX: 50, CY: 50, W: 20, H: 10, Score: 0.9},
		mock.FlatDetection{CX: 10, CY: 10, W: 4, H: 4, Score: 0.1},
		mock.FlatDetection{CX: 500, CY: 500, W: 4, H: 4, Score: 0.9},
	)

	got, err := Decode(FlatDetections{Detections: det, ScaleX: 2}, 200, 100, 0.5)
	require.NoError(t, err)
	want := []Candidate{{Box: utils.BoundingBox{X: 80, Y: 45, Width: 40, Height: 10}, Score: 0.9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_FlatDetectionsWithoutScore(t *testing.T) {
	data := []float32{50, 50, 20, 10, float32(math.Pi / 2)}
	det := onnx.Tensor{Data: data, Shape: []int64{1, 1, 1, 5}}

	got, err := Decode(&FlatDetections{Detections: det}, 100, 100, 0.99)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	// quarter turn swaps the extents
	assert.Equal(t, utils.BoundingBox{X: 45, Y: 40, Width: 10, Height: 20}, got[0].Box)
}

func TestDecode_ConfidentCellsWithoutGeometry(t *testing.T) {
	// every cell clears the threshold but none carries a box
	m := mock.NewEASTOutput(6, 6).FillScores(0.95)
	got, err := Decode(eastInput(m), 24, 24, 0.5)
	require.NoError(t, err)
	assert.Empty(t, got)

	m.SetCell(2, 3, 0.95, 1, 2, 1, 2, 0)
	got, err = Decode(eastInput(m), 24, 24, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, utils.BoundingBox{X: 6, Y: 11, Width: 4, Height: 2}, got[0].Box)
}
