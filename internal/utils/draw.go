package utils

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
)

// OverlayGreen is the default overlay colour for retained boxes.
var OverlayGreen = color.NRGBA{G: 255, A: 255}

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.NRGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}

// DrawBoxes draws every box onto dst in place.
func DrawBoxes(dst *image.NRGBA, boxes []BoundingBox, col color.Color, thickness int) {
	if col == nil {
		col = OverlayGreen
	}
	for _, b := range boxes {
		DrawRect(dst, b.Rect(), col, thickness)
	}
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB" into an opaque colour.
func ParseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex colour %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
