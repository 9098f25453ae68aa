package types

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Rect is a pixel rectangle anchored at its top-left corner
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rectangle converts r to an image.Rectangle. The far corner saturates at
// the int range instead of wrapping.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, span(r.X, r.W), span(r.Y, r.H))
}

func span(p, n int) int {
	switch {
	case n > 0 && p > math.MaxInt-n:
		return math.MaxInt
	case n < 0 && p < math.MinInt-n:
		return math.MinInt
	}
	return p + n
}

// Empty reports whether r covers no pixels
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d@%d,%d", r.W, r.H, r.X, r.Y)
}

// RectFrom converts an image.Rectangle to a Rect
func RectFrom(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Point is a position in buffer pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TextOverlay describes text stamped over the image during composition.
// Position is the left end of the text baseline.
type TextOverlay struct {
	Content  string      `json:"content"`
	Color    color.NRGBA `json:"color"`
	Position Point       `json:"position"`
	FontSize float64     `json:"font_size"`
}

// DefaultOverlay returns the overlay settings a fresh session starts with
func DefaultOverlay() TextOverlay {
	return TextOverlay{
		Color:    color.NRGBA{0, 0, 0, 255},
		FontSize: 14,
	}
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Subject is the dominant subject reported by a vision model
type Subject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}
