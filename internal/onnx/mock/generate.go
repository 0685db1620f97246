// Package mock builds synthetic detector outputs with the same layout the
// real networks produce, so decode and pipeline tests run without a model.
package mock

import (
	"github.com/MeKo-Tech/framescan/internal/onnx"
)

// EASTOutput is a score map [1,1,H,W] plus a geometry map [1,5,H,W].
type EASTOutput struct {
	Width    int
	Height   int
	Scores   []float32
	Geometry []float32
}

// NewEASTOutput creates all-zero maps for a WxH cell grid.
func NewEASTOutput(w, h int) *EASTOutput {
	if w <= 0 || h <= 0 {
		return &EASTOutput{}
	}
	return &EASTOutput{
		Width:    w,
		Height:   h,
		Scores:   make([]float32, w*h),
		Geometry: make([]float32, 5*w*h),
	}
}

// SetCell writes one cell: score plus edge distances and angle in radians.
func (e *EASTOutput) SetCell(x, y int, score, top, right, bottom, left, angle float32) *EASTOutput {
	if x < 0 || y < 0 || x >= e.Width || y >= e.Height {
		return e
	}
	plane := e.Width * e.Height
	i := y*e.Width + x
	e.Scores[i] = score
	e.Geometry[i] = top
	e.Geometry[plane+i] = right
	e.Geometry[2*plane+i] = bottom
	e.Geometry[3*plane+i] = left
	e.Geometry[4*plane+i] = angle
	return e
}

// FillScores sets every cell's score to value, leaving geometry untouched.
func (e *EASTOutput) FillScores(value float32) *EASTOutput {
	for i := range e.Scores {
		e.Scores[i] = value
	}
	return e
}

// Tensors returns the score and geometry tensors.
func (e *EASTOutput) Tensors() (onnx.Tensor, onnx.Tensor) {
	h, w := int64(e.Height), int64(e.Width)
	return onnx.Tensor{Data: e.Scores, Shape: []int64{1, 1, h, w}},
		onnx.Tensor{Data: e.Geometry, Shape: []int64{1, 5, h, w}}
}

// FlatDetection is one row of a single-output detections tensor.
type FlatDetection struct {
	CX, CY, W, H float32
	Angle        float32 // radians
	Score        float32
}

// NewFlatDetections packs rows into a [1,1,N,6] tensor (cx, cy, w, h, angle, score).
func NewFlatDetections(rows ...FlatDetection) onnx.Tensor {
	data := make([]float32, 0, len(rows)*6)
	for _, r := range rows {
		data = append(data, r.CX, r.CY, r.W, r.H, r.Angle, r.Score)
	}
	return onnx.Tensor{Data: data, Shape: []int64{1, 1, int64(len(rows)), 6}}
}

// GeometryTensor returns only the geometry tensor.
func (e *EASTOutput) GeometryTensor() onnx.Tensor {
	_, g := e.Tensors()
	return g
}
