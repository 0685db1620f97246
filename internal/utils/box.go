package utils

import (
	"image"
	"math"
)

// Point represents a 2D coordinate in float space.
type Point struct {
	X float64
	Y float64
}

// Size is a width/height pair in float space. Negative values are allowed.
type Size struct {
	Width  float64
	Height float64
}

// BoundingBox is an axis-aligned rectangle in integer pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewBoundingBox builds a box from two corners, ordering them.
func NewBoundingBox(x1, y1, x2, y2 int) BoundingBox {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Right returns the exclusive right edge.
func (b BoundingBox) Right() int { return b.X + b.Width }

// Bottom returns the exclusive bottom edge.
func (b BoundingBox) Bottom() int { return b.Y + b.Height }

// Area returns width*height, or 0 for degenerate boxes.
func (b BoundingBox) Area() int {
	if b.Empty() {
		return 0
	}
	return b.Width * b.Height
}

// Empty reports whether the box has no positive area.
func (b BoundingBox) Empty() bool { return b.Width <= 0 || b.Height <= 0 }

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.Right(), b.Bottom())
}

// Intersect returns the overlapping region of two boxes. The result may be empty.
func (b BoundingBox) Intersect(o BoundingBox) BoundingBox {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.Right(), o.Right())
	y2 := min(b.Bottom(), o.Bottom())
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// ClipToFrame intersects box with [0,frameWidth)x[0,frameHeight).
// The second return value is false when nothing of positive area remains.
func ClipToFrame(box BoundingBox, frameWidth, frameHeight int) (BoundingBox, bool) {
	clipped := box.Intersect(BoundingBox{Width: frameWidth, Height: frameHeight})
	if clipped.Empty() {
		return BoundingBox{}, false
	}
	return clipped, true
}

// BoxesEqual reports exact equality of position and size.
func BoxesEqual(a, b BoundingBox) bool {
	return a.X == b.X && a.Y == b.Y && a.Width == b.Width && a.Height == b.Height
}

// IoU computes intersection-over-union of two boxes.
func IoU(a, b BoundingBox) float64 {
	inter := a.Intersect(b).Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// snapEpsilon absorbs float noise from the corner rotation so that a corner
// landing on 30.0000001 does not grow the box by a pixel.
const snapEpsilon = 1e-4

// OrientedCorners returns the four corners of a rotated rectangle in the
// order bottom-left, top-left, top-right, bottom-right (for angle 0).
func OrientedCorners(center Point, size Size, angleDegrees float64) [4]Point {
	rad := angleDegrees * math.Pi / 180
	b := math.Cos(rad) * 0.5
	a := math.Sin(rad) * 0.5

	var pts [4]Point
	pts[0] = Point{
		X: center.X - a*size.Height - b*size.Width,
		Y: center.Y + b*size.Height - a*size.Width,
	}
	pts[1] = Point{
		X: center.X + a*size.Height - b*size.Width,
		Y: center.Y - b*size.Height - a*size.Width,
	}
	pts[2] = Point{X: 2*center.X - pts[0].X, Y: 2*center.Y - pts[0].Y}
	pts[3] = Point{X: 2*center.X - pts[1].X, Y: 2*center.Y - pts[1].Y}
	return pts
}

// BoundingRectOfOriented computes the smallest axis-aligned integer rectangle
// enclosing the oriented rectangle (center, size, angle).
func BoundingRectOfOriented(center Point, size Size, angleDegrees float64) BoundingBox {
	pts := OrientedCorners(center, size, angleDegrees)

	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}

	// Right and bottom are exclusive edges, so no +1 as in OpenCV's boundingRect.
	x1 := toPixel(math.Floor(snap(minX)))
	y1 := toPixel(math.Floor(snap(minY)))
	x2 := toPixel(math.Ceil(snap(maxX)))
	y2 := toPixel(math.Ceil(snap(maxY)))
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

// toPixel converts to int, clamping into the int32 range so that width and
// height arithmetic cannot overflow. NaN maps to 0.
func toPixel(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt32/2:
		return math.MaxInt32 / 2
	case v < math.MinInt32/2:
		return math.MinInt32 / 2
	}
	return int(v)
}
