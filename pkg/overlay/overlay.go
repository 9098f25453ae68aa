// Package overlay stamps text onto image buffers.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/menta2k/photo-editor/pkg/types"
)

// ErrInvalidFontSize is returned when an overlay asks for a non-positive font size
var ErrInvalidFontSize = errors.New("font size must be positive")

// Stamper renders text overlays with a single TrueType font
type Stamper struct {
	font *truetype.Font
}

// New creates a Stamper using the Go Regular font
func New() (*Stamper, error) {
	return NewFromTTF(goregular.TTF)
}

// NewFromFile creates a Stamper from a TrueType font file
func NewFromFile(path string) (*Stamper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	return NewFromTTF(data)
}

// NewFromTTF creates a Stamper from raw TrueType data
func NewFromTTF(data []byte) (*Stamper, error) {
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Stamper{font: f}, nil
}

// Stamp returns a copy of img with the overlay text drawn on it. An overlay
// without content yields an unmodified copy.
func (s *Stamper) Stamp(img image.Image, o types.TextOverlay) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if o.Content == "" {
		return imaging.Clone(img), nil
	}
	if o.FontSize <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFontSize, o.FontSize)
	}

	face := truetype.NewFace(s.font, &truetype.Options{
		Size:    o.FontSize,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	defer face.Close()

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(face)
	dc.SetColor(o.Color)
	for i, line := range strings.Split(o.Content, "\n") {
		dc.DrawString(line, o.Position.X, o.Position.Y+float64(i)*o.FontSize*1.2)
	}

	return imaging.Clone(dc.Image()), nil
}

// Measure returns the rendered width and height of the overlay text
func (s *Stamper) Measure(o types.TextOverlay) (float64, float64, error) {
	if o.FontSize <= 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidFontSize, o.FontSize)
	}
	face := truetype.NewFace(s.font, &truetype.Options{Size: o.FontSize, DPI: 72})
	defer face.Close()

	dc := gg.NewContext(1, 1)
	dc.SetFontFace(face)
	w, h := dc.MeasureMultilineString(o.Content, 1.2)
	return w, h, nil
}

var palette = []struct {
	name string
	c    color.NRGBA
}{
	{"black", color.NRGBA{0, 0, 0, 255}},
	{"red", color.NRGBA{255, 0, 0, 255}},
	{"blue", color.NRGBA{0, 0, 255, 255}},
	{"green", color.NRGBA{0, 255, 0, 255}},
	{"yellow", color.NRGBA{255, 255, 0, 255}},
	{"magenta", color.NRGBA{255, 0, 255, 255}},
	{"cyan", color.NRGBA{0, 255, 255, 255}},
	{"white", color.NRGBA{255, 255, 255, 255}},
}

// Palette returns the named text colours offered by the editor
func Palette() map[string]color.NRGBA {
	m := make(map[string]color.NRGBA, len(palette))
	for _, p := range palette {
		m[p.name] = p.c
	}
	return m
}

// ParseColor accepts a palette name or a #rrggbb / #rrggbbaa hex value
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range palette {
		if p.name == s {
			return p.c, nil
		}
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}
