// Package suggest proposes an initial crop rectangle for the crop tool.
package suggest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/photo-editor/pkg/transform"
	"github.com/menta2k/photo-editor/pkg/types"
	"github.com/menta2k/photo-editor/pkg/vision"
)

// DefaultPrompt asks the model for the dominant subject as normalized JSON
const DefaultPrompt = `You are an image subject locator.

Return JSON only:
{
  "label": "string",
  "confidence": 0.0,
  "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
  "cx": 0.0,
  "cy": 0.0
}

RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The box should tightly include the visually dominant subject (prefer people/animals/vehicles; else the most central salient object).
- cx, cy is the centre of the subject.
- If no subject is found, return {"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.5,"h":0.5},"cx":0.5,"cy":0.5}.
- JSON only. No markdown, no comments.`

// Suggester returns a crop rectangle for an image
type Suggester interface {
	Suggest(ctx context.Context, img image.Image) (types.Rect, error)
}

// Centered suggests the centred square, matching the editor's square crop frame
type Centered struct{}

// Suggest implements Suggester
func (Centered) Suggest(_ context.Context, img image.Image) (types.Rect, error) {
	if img == nil {
		return types.Rect{}, errors.New("nil image")
	}
	b := img.Bounds()
	return transform.CenteredSquare(b.Dx(), b.Dy()), nil
}

// Config holds configuration for model-backed suggestions
type Config struct {
	Model         string
	Prompt        string
	SendSize      int
	SendQuality   int
	Square        bool
	MinConfidence float64
}

// DefaultConfig returns the model suggester defaults
func DefaultConfig() Config {
	return Config{
		Model:         "qwen2.5vl:7b",
		Prompt:        DefaultPrompt,
		SendSize:      1024,
		SendQuality:   85,
		Square:        true,
		MinConfidence: 0.2,
	}
}

// Subject suggests a crop around the subject reported by a vision model
type Subject struct {
	client vision.Client
	config Config
}

// NewSubject creates a model-backed suggester with default configuration
func NewSubject(client vision.Client) *Subject {
	return NewSubjectWithConfig(client, DefaultConfig())
}

// NewSubjectWithConfig creates a model-backed suggester with custom configuration
func NewSubjectWithConfig(client vision.Client, config Config) *Subject {
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	return &Subject{client: client, config: config}
}

// Suggest implements Suggester
func (s *Subject) Suggest(ctx context.Context, img image.Image) (types.Rect, error) {
	if img == nil {
		return types.Rect{}, errors.New("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return types.Rect{}, fmt.Errorf("invalid image dimensions")
	}

	payload, err := s.prepare(img)
	if err != nil {
		return types.Rect{}, err
	}

	subject, err := s.client.LocateSubject(ctx, s.config.Model, s.config.Prompt, payload)
	if err != nil {
		return types.Rect{}, fmt.Errorf("subject detection failed: %w", err)
	}
	if subject.Label == "none" || subject.Confidence < s.config.MinConfidence {
		return transform.CenteredSquare(w, h), nil
	}

	return RectForSubject(*subject, w, h, s.config.Square), nil
}

// prepare downsizes and JPEG-encodes img for the model
func (s *Subject) prepare(img image.Image) ([]byte, error) {
	if maxDim := s.config.SendSize; maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		}
	}

	quality := s.config.SendQuality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image for model: %w", err)
	}
	return buf.Bytes(), nil
}

// RectForSubject converts a subject to a pixel crop. With square set, the
// result is the largest square centred as near the subject as possible.
func RectForSubject(subject types.Subject, width, height int, square bool) types.Rect {
	cx, cy := subject.Cx, subject.Cy
	if !inUnit(cx) || !inUnit(cy) {
		cx = subject.Box.X + subject.Box.W/2
		cy = subject.Box.Y + subject.Box.H/2
	}
	if square {
		return transform.SquareAround(cx, cy, width, height)
	}
	return transform.BoxToRect(subject.Box, width, height)
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v > 0 && v <= 1
}
