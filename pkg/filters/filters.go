// Package filters implements the fixed set of colour filters offered by the
// photo editor. Every filter is a stateless per-pixel function, so applying
// one to the same base buffer always yields the same result.
package filters

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// Kind identifies one of the supported filters
type Kind int

const (
	None Kind = iota
	Lighten
	Sepia
	Desaturate
	Red
	Green
	Blue
	Contrast
	Brighten
)

// ErrUnknownFilter is returned for a Kind or name outside the supported set
var ErrUnknownFilter = errors.New("unknown filter")

var names = [...]string{
	None:       "none",
	Lighten:    "lighten",
	Sepia:      "sepia",
	Desaturate: "desaturate",
	Red:        "red",
	Green:      "green",
	Blue:       "blue",
	Contrast:   "contrast",
	Brighten:   "brighten",
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("filter(%d)", int(k))
	}
	return names[k]
}

// Valid reports whether k is one of the supported filters
func (k Kind) Valid() bool {
	return k >= None && int(k) < len(names)
}

// All returns every filter in display order, starting with None
func All() []Kind {
	kinds := make([]Kind, len(names))
	for i := range names {
		kinds[i] = Kind(i)
	}
	return kinds
}

// ParseKind looks a filter up by name, case-insensitively
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return None, nil
	}
	for i, n := range names {
		if n == name {
			return Kind(i), nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
}

// Func returns the per-pixel function for k. None maps to the identity.
func Func(k Kind) (func(color.NRGBA) color.NRGBA, error) {
	switch k {
	case None:
		return func(c color.NRGBA) color.NRGBA { return c }, nil
	case Lighten:
		return Lighting(color.NRGBA{0x88, 0x88, 0x88, 0xff}, color.NRGBA{0xcc, 0xcc, 0xcc, 0xff}), nil
	case Sepia:
		return sepiaMatrix.Apply, nil
	case Desaturate:
		return Saturation(0.2).Apply, nil
	case Red:
		return Tint(color.NRGBA{0xff, 0, 0, 51}), nil
	case Green:
		return Tint(color.NRGBA{0, 0xff, 0, 51}), nil
	case Blue:
		return Tint(color.NRGBA{0, 0, 0xff, 51}), nil
	case Contrast:
		return contrastMatrix.Apply, nil
	case Brighten:
		return brightenMatrix.Apply, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownFilter, int(k))
}

// Apply returns a filtered copy of img. The source image is never modified.
func Apply(img image.Image, k Kind) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	fn, err := Func(k)
	if err != nil {
		return nil, err
	}
	if k == None {
		return imaging.Clone(img), nil
	}
	return imaging.AdjustFunc(img, fn), nil
}

// ColorMatrix is a 4x5 row-major colour matrix. Offsets (column 5) are in
// the 0..255 channel range.
type ColorMatrix [20]float64

var (
	sepiaMatrix = ColorMatrix{
		0.393, 0.769, 0.189, 0, 0,
		0.349, 0.686, 0.168, 0, 0,
		0.272, 0.534, 0.131, 0, 0,
		0, 0, 0, 1, 0,
	}
	contrastMatrix = ColorMatrix{
		1.5, 0, 0, 0, -40,
		0, 1.5, 0, 0, -40,
		0, 0, 1.5, 0, -40,
		0, 0, 0, 1, 0,
	}
	brightenMatrix = ColorMatrix{
		1, 0, 0, 0, 30,
		0, 1, 0, 0, 30,
		0, 0, 1, 0, 30,
		0, 0, 0, 1, 0,
	}
)

// Saturation builds a matrix scaling colour saturation by s (0 = gray, 1 = identity)
func Saturation(s float64) ColorMatrix {
	const lr, lg, lb = 0.213, 0.715, 0.072
	inv := 1 - s
	r, g, b := lr*inv, lg*inv, lb*inv
	return ColorMatrix{
		r + s, g, b, 0, 0,
		r, g + s, b, 0, 0,
		r, g, b + s, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// Apply transforms a single pixel
func (m ColorMatrix) Apply(c color.NRGBA) color.NRGBA {
	r, g, b, a := float64(c.R), float64(c.G), float64(c.B), float64(c.A)
	return color.NRGBA{
		R: clamp8(m[0]*r + m[1]*g + m[2]*b + m[3]*a + m[4]),
		G: clamp8(m[5]*r + m[6]*g + m[7]*b + m[8]*a + m[9]),
		B: clamp8(m[10]*r + m[11]*g + m[12]*b + m[13]*a + m[14]),
		A: clamp8(m[15]*r + m[16]*g + m[17]*b + m[18]*a + m[19]),
	}
}

// Lighting multiplies each channel by mul/255 and adds add, keeping alpha
func Lighting(mul, add color.NRGBA) func(color.NRGBA) color.NRGBA {
	return func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp8(float64(c.R)*float64(mul.R)/255 + float64(add.R)),
			G: clamp8(float64(c.G)*float64(mul.G)/255 + float64(add.G)),
			B: clamp8(float64(c.B)*float64(mul.B)/255 + float64(add.B)),
			A: c.A,
		}
	}
}

// Tint blends every pixel towards t, using t's alpha as the blend weight
func Tint(t color.NRGBA) func(color.NRGBA) color.NRGBA {
	w := float64(t.A) / 255
	return func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp8(float64(c.R)*(1-w) + float64(t.R)*w),
			G: clamp8(float64(c.G)*(1-w) + float64(t.G)*w),
			B: clamp8(float64(c.B)*(1-w) + float64(t.B)*w),
			A: c.A,
		}
	}
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
