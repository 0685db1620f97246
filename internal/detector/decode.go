package detector

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/MeKo-Tech/framescan/internal/onnx"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

// ErrInvalidTensorShape is returned when network output does not have the
// layout its decode path expects.
var ErrInvalidTensorShape = errors.New("invalid tensor shape")

// cellStride is the down-sampling factor between the EAST input and its maps.
const cellStride = 4

// DecoderInput is the raw network output for one frame. It is implemented
// only by ScoreGeometry and FlatDetections.
type DecoderInput interface {
	decoderInput()
}

// ScoreGeometry is EAST output: a [1,1,H,W] score map and a [1,5,H,W]
// geometry map holding top, right, bottom, left distances and the angle.
type ScoreGeometry struct {
	Scores   onnx.Tensor
	Geometry onnx.Tensor
}

// FlatDetections is a [1,1,N,K] tensor of oriented boxes, K >= 5:
// cx, cy, w, h, angle in radians, then an optional confidence.
type FlatDetections struct {
	Detections onnx.Tensor
	ScaleX     float32
	ScaleY     float32
}

func (ScoreGeometry) decoderInput()  {}
func (FlatDetections) decoderInput() {}

// Candidate is one box proposed before suppression.
type Candidate struct {
	Box   utils.BoundingBox `json:"box"`
	Score float32           `json:"score"`
}

// Decode turns network output into clipped candidates inside a
// frameWidth x frameHeight frame.
func Decode(input DecoderInput, frameWidth, frameHeight int, scoreThreshold float32) ([]Candidate, error) {
	switch in := input.(type) {
	case ScoreGeometry:
		return decodeScoreGeometry(in, frameWidth, frameHeight, scoreThreshold)
	case *ScoreGeometry:
		if in == nil {
			return nil, fmt.Errorf("%w: nil input", ErrInvalidTensorShape)
		}
		return decodeScoreGeometry(*in, frameWidth, frameHeight, scoreThreshold)
	case FlatDetections:
		return decodeFlat(in, frameWidth, frameHeight, scoreThreshold)
	case *FlatDetections:
		if in == nil {
			return nil, fmt.Errorf("%w: nil input", ErrInvalidTensorShape)
		}
		return decodeFlat(*in, frameWidth, frameHeight, scoreThreshold)
	default:
		return nil, fmt.Errorf("%w: unsupported decoder input %T", ErrInvalidTensorShape, input)
	}
}

func checkShape(t onnx.Tensor, name string, channels int64) (int, int, error) {
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != channels {
		return 0, 0, fmt.Errorf("%w: %s shape %v, want [1,%d,H,W]", ErrInvalidTensorShape, name, t.Shape, channels)
	}
	h, w := int(t.Shape[2]), int(t.Shape[3])
	if h < 0 || w < 0 || len(t.Data) != int(channels)*h*w {
		return 0, 0, fmt.Errorf("%w: %s has %d values for shape %v", ErrInvalidTensorShape, name, len(t.Data), t.Shape)
	}
	return h, w, nil
}

func decodeScoreGeometry(in ScoreGeometry, frameWidth, frameHeight int, threshold float32) ([]Candidate, error) {
	h, w, err := checkShape(in.Scores, "score map", 1)
	if err != nil {
		return nil, err
	}
	gh, gw, err := checkShape(in.Geometry, "geometry map", 5)
	if err != nil {
		return nil, err
	}
	if gh != h || gw != w {
		return nil, fmt.Errorf("%w: score map %dx%d and geometry map %dx%d differ", ErrInvalidTensorShape, w, h, gw, gh)
	}

	plane := h * w
	scores := in.Scores.Data
	top := in.Geometry.Data[0:plane]
	right := in.Geometry.Data[plane : 2*plane]
	bottom := in.Geometry.Data[2*plane : 3*plane]
	left := in.Geometry.Data[3*plane : 4*plane]
	angles := in.Geometry.Data[4*plane : 5*plane]

	var out []Candidate
	for y := range h {
		for x := range w {
			i := y*w + x
			score := scores[i]
			if score < threshold || math32.IsNaN(score) {
				continue
			}

			offX := float32(x * cellStride)
			offY := float32(y * cellStride)
			angle := angles[i]
			cos, sin := math32.Cos(angle), math32.Sin(angle)
			bh := top[i] + bottom[i]
			bw := right[i] + left[i]

			ox := offX + cos*right[i] - sin*bottom[i]
			oy := offY + sin*right[i] + cos*bottom[i]
			p1x, p1y := -sin*bh+ox, -cos*bh+oy
			p3x, p3y := -cos*bw+ox, sin*bw+oy

			center := utils.Point{X: float64((p1x + p3x) * 0.5), Y: float64((p1y + p3y) * 0.5)}
			size := utils.Size{Width: float64(bw), Height: float64(bh)}
			deg := float64(-angle * 180 / math32.Pi)

			box := utils.BoundingRectOfOriented(center, size, deg)
			clipped, ok := utils.ClipToFrame(box, frameWidth, frameHeight)
			if !ok {
				continue
			}
			out = append(out, Candidate{Box: clipped, Score: score})
		}
	}
	return out, nil
}

func decodeFlat(in FlatDetections, frameWidth, frameHeight int, threshold float32) ([]Candidate, error) {
	t := in.Detections
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != 1 || t.Shape[3] < 5 {
		return nil, fmt.Errorf("%w: detections shape %v, want [1,1,N,>=5]", ErrInvalidTensorShape, t.Shape)
	}
	n, k := int(t.Shape[2]), int(t.Shape[3])
	if n < 0 || len(t.Data) != n*k {
		return nil, fmt.Errorf("%w: detections has %d values for shape %v", ErrInvalidTensorShape, len(t.Data), t.Shape)
	}
	sx, sy := in.ScaleX, in.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}

	var out []Candidate
	for r := range n {
		row := t.Data[r*k : (r+1)*k]
		score := float32(1)
		if k > 5 {
			score = row[5]
		}
		if score < threshold || math32.IsNaN(score) {
			continue
		}
		center := utils.Point{X: float64(row[0] * sx), Y: float64(row[1] * sy)}
		size := utils.Size{Width: float64(row[2] * sx), Height: float64(row[3] * sy)}
		deg := float64(row[4] * 180 / math32.Pi)

		box := utils.BoundingRectOfOriented(center, size, deg)
		clipped, ok := utils.ClipToFrame(box, frameWidth, frameHeight)
		if !ok {
			continue
		}
		out = append(out, Candidate{Box: clipped, Score: score})
	}
	return out, nil
}
