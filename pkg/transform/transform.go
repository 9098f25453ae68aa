// Package transform holds the geometric edits of the photo editor. Every
// function returns a new buffer and leaves its input untouched.
package transform

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/photo-editor/pkg/types"
)

var (
	// ErrEmptyCrop is returned when a crop rectangle does not overlap the image
	ErrEmptyCrop = errors.New("empty crop rectangle")
	// ErrUnsupportedAngle is returned for rotations that are not a multiple of 90 degrees
	ErrUnsupportedAngle = errors.New("rotation must be a multiple of 90 degrees")
	errNilImage         = errors.New("nil image")
)

// Clone returns an independent NRGBA copy of img with bounds at the origin
func Clone(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, errNilImage
	}
	return imaging.Clone(img), nil
}

// RotateClockwise rotates img by 90 degrees clockwise
func RotateClockwise(img image.Image) (*image.NRGBA, error) {
	return Rotate(img, 90)
}

// Rotate rotates img clockwise by degrees, which must be a multiple of 90.
// Negative angles rotate counter-clockwise.
func Rotate(img image.Image, degrees float64) (*image.NRGBA, error) {
	if img == nil {
		return nil, errNilImage
	}
	if math.Mod(degrees, 90) != 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAngle, degrees)
	}

	// imaging rotates counter-clockwise
	switch NormalizeAngle(degrees) {
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return imaging.Clone(img), nil
	}
}

// NormalizeAngle maps degrees into [0, 360)
func NormalizeAngle(degrees float64) float64 {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Crop returns the part of img covered by rect. The rectangle is clamped to
// the image bounds; a rectangle with no overlap fails with ErrEmptyCrop.
func Crop(img image.Image, rect types.Rect) (*image.NRGBA, error) {
	if img == nil {
		return nil, errNilImage
	}
	bounds := img.Bounds()
	if rect.Empty() || rect.X > math.MaxInt-rect.W || rect.Y > math.MaxInt-rect.H {
		return nil, fmt.Errorf("%w: %s within %dx%d", ErrEmptyCrop, rect, bounds.Dx(), bounds.Dy())
	}
	r := rect.Rectangle().Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if r.Empty() {
		return nil, fmt.Errorf("%w: %s within %dx%d", ErrEmptyCrop, rect, bounds.Dx(), bounds.Dy())
	}
	return imaging.Crop(img, r.Add(bounds.Min)), nil
}

// CenteredSquare returns the largest square centred in a width x height image
func CenteredSquare(width, height int) types.Rect {
	side := width
	if height < side {
		side = height
	}
	return types.Rect{
		X: (width - side) / 2,
		Y: (height - side) / 2,
		W: side,
		H: side,
	}
}

// BoxToRect converts a normalized box into a pixel rectangle inside a
// width x height image. The result always covers at least one pixel.
func BoxToRect(box types.Box, width, height int) types.Rect {
	fw, fh := float64(width), float64(height)

	x0 := int(clamp(box.X, 0, 1)*fw + 0.5)
	y0 := int(clamp(box.Y, 0, 1)*fh + 0.5)
	x1 := int(clamp(box.X+box.W, 0, 1)*fw + 0.5)
	y1 := int(clamp(box.Y+box.H, 0, 1)*fh + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	if x1 > width {
		x0, x1 = width-1, width
	}
	if y1 > height {
		y0, y1 = height-1, height
	}
	return types.Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// SquareAround returns the largest square inside a width x height image
// whose centre is as close as possible to (cx, cy), both normalized.
func SquareAround(cx, cy float64, width, height int) types.Rect {
	sq := CenteredSquare(width, height)
	px := int(clamp(cx, 0, 1)*float64(width)+0.5) - sq.W/2
	py := int(clamp(cy, 0, 1)*float64(height)+0.5) - sq.H/2
	sq.X = int(clamp(float64(px), 0, float64(width-sq.W)))
	sq.Y = int(clamp(float64(py), 0, float64(height-sq.H)))
	return sq
}

// FitPreview downsizes img so neither side exceeds maxSide and reports the
// applied scale. Images that already fit are cloned at scale 1.
func FitPreview(img image.Image, maxSide int) (*image.NRGBA, float64, error) {
	if img == nil {
		return nil, 0, errNilImage
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return imaging.Clone(img), 1, nil
	}

	fitted := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	scale := float64(fitted.Bounds().Dx()) / float64(w)
	return fitted, scale, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
