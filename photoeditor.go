// Package photoeditor provides a photo edit pipeline: load an image, rotate,
// crop, filter and caption it, then save the composed result.
//
// The package wires the building blocks under pkg/ together from a single
// configuration and hands out edit sessions.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		photoeditor "github.com/menta2k/photo-editor"
//		"github.com/menta2k/photo-editor/pkg/filters"
//		"github.com/menta2k/photo-editor/pkg/types"
//	)
//
//	func main() {
//		pe, err := photoeditor.New(nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		session, err := pe.Open(context.Background(), "photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		session.Rotate()
//		session.CommitCrop(types.Rect{X: 10, Y: 10, W: 400, H: 400})
//		session.ApplyFilter(filters.Sepia)
//
//		addr, err := session.Save(context.Background())
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println("saved to", addr)
//	}
//
// The package consists of these main components:
//
// 1. Editor (pkg/editor): the edit session and its composition rules
// 2. Filters, transforms and overlay (pkg/filters, pkg/transform, pkg/overlay): pixel operations
// 3. Source and storage (pkg/source, pkg/storage): loading and atomic, lossless saving
// 4. Suggest (pkg/suggest, pkg/ollama, pkg/llamacpp): initial crop rectangles, optionally from a vision model
//
// Edits never accumulate: the preview and the exported image are always
// composed from the base buffer, so switching filters is lossless and the
// text overlay is drawn only into the composed output.
package photoeditor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/photo-editor/internal/config"
	"github.com/menta2k/photo-editor/pkg/editor"
	"github.com/menta2k/photo-editor/pkg/filters"
	"github.com/menta2k/photo-editor/pkg/llamacpp"
	"github.com/menta2k/photo-editor/pkg/ollama"
	"github.com/menta2k/photo-editor/pkg/overlay"
	"github.com/menta2k/photo-editor/pkg/source"
	"github.com/menta2k/photo-editor/pkg/storage"
	"github.com/menta2k/photo-editor/pkg/suggest"
	"github.com/menta2k/photo-editor/pkg/types"
	"github.com/menta2k/photo-editor/pkg/vision"
)

// Version of the photo editor library
const Version = "1.0.0"

// PhotoEditor provides a high-level interface for editing sessions
type PhotoEditor struct {
	config    *config.Config
	logger    logrus.FieldLogger
	source    source.Source
	sink      *storage.DirSink
	stamper   *overlay.Stamper
	suggester suggest.Suggester
	overlay   types.TextOverlay
}

// New creates a new PhotoEditor with default configuration
func New(logger logrus.FieldLogger) (*PhotoEditor, error) {
	return NewWithConfig(config.Default(), logger)
}

// NewWithConfig creates a new PhotoEditor with custom configuration
func NewWithConfig(cfg *config.Config, logger logrus.FieldLogger) (*PhotoEditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	src := source.NewWithConfig(source.Config{
		SupportedFormats: cfg.Source.SupportedFormats,
		AutoOrient:       cfg.Source.AutoOrient,
		HTTPTimeout:      time.Duration(cfg.Source.HTTPTimeoutSeconds) * time.Second,
		MaxBytes:         cfg.Source.MaxBytes,
	}, logger)

	format, err := storage.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	sink := storage.NewDirSink(cfg.Output.Dir, logger)
	sink.Format = format
	sink.Prefix = cfg.Output.Prefix

	var stamper *overlay.Stamper
	if cfg.Editor.FontPath != "" {
		stamper, err = overlay.NewFromFile(cfg.Editor.FontPath)
	} else {
		stamper, err = overlay.New()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	textColor, err := overlay.ParseColor(cfg.Editor.DefaultTextColor)
	if err != nil {
		return nil, err
	}
	defaultOverlay := types.DefaultOverlay()
	defaultOverlay.Color = textColor
	defaultOverlay.FontSize = cfg.Editor.DefaultFontSize

	suggester, err := newSuggester(cfg.Vision)
	if err != nil {
		return nil, err
	}

	return &PhotoEditor{
		config:    cfg,
		logger:    logger,
		source:    src,
		sink:      sink,
		stamper:   stamper,
		suggester: suggester,
		overlay:   defaultOverlay,
	}, nil
}

func newSuggester(cfg config.VisionConfig) (suggest.Suggester, error) {
	var (
		client vision.Client
		err    error
	)
	switch cfg.Backend {
	case "ollama":
		client, err = ollama.NewClient(cfg.URL)
	case "llamacpp":
		client, err = llamacpp.NewClient(cfg.URL)
	default:
		return suggest.Centered{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}

	return suggest.NewSubjectWithConfig(client, suggest.Config{
		Model:         cfg.Model,
		SendSize:      cfg.SendSize,
		SendQuality:   cfg.SendQuality,
		Square:        cfg.Square,
		MinConfidence: cfg.MinConfidence,
	}), nil
}

// Config returns the configuration the editor was built from
func (pe *PhotoEditor) Config() *config.Config {
	return pe.config
}

// Suggester returns the crop suggester selected by the vision configuration
func (pe *PhotoEditor) Suggester() suggest.Suggester {
	return pe.suggester
}

// NewSession creates an empty session wired to the configured source and sink
func (pe *PhotoEditor) NewSession(opts ...editor.Option) *editor.Session {
	base := []editor.Option{
		editor.WithLogger(pe.logger),
		editor.WithStamper(pe.stamper),
		editor.WithPreviewMaxSize(pe.config.Editor.PreviewMaxSize),
		editor.WithDefaultOverlay(pe.overlay),
	}
	return editor.New(pe.source, pe.sink, append(base, opts...)...)
}

// Open creates a session and loads address into it
func (pe *PhotoEditor) Open(ctx context.Context, address string, opts ...editor.Option) (*editor.Session, error) {
	s := pe.NewSession(opts...)
	if err := s.Load(ctx, address); err != nil {
		return nil, err
	}
	return s, nil
}

// Edits describes a batch of edits applied in a fixed order: rotation,
// crop, filter and then the text overlay
type Edits struct {
	Filter      filters.Kind
	Rotations   int
	Crop        *types.Rect
	SuggestCrop bool
	Overlay     *types.TextOverlay
}

// Apply runs e against s and returns the non-fatal warnings it produced
func (pe *PhotoEditor) Apply(ctx context.Context, s *editor.Session, e Edits) ([]error, error) {
	for i := 0; i < ((e.Rotations%4)+4)%4; i++ {
		if err := s.Rotate(); err != nil {
			return nil, err
		}
	}

	switch {
	case e.Crop != nil:
		if err := s.CommitCrop(*e.Crop); err != nil {
			return nil, err
		}
	case e.SuggestCrop:
		if err := s.SuggestCrop(ctx, pe.suggester); err != nil {
			return nil, err
		}
		if err := s.CommitPendingCrop(); err != nil {
			return nil, err
		}
	}

	if err := s.ApplyFilter(e.Filter); err != nil {
		return nil, err
	}

	if e.Overlay != nil {
		if err := s.SetOverlay(*e.Overlay); err != nil {
			return nil, err
		}
	}

	return s.Warnings(), nil
}

// ProcessFile is a convenience function that loads, edits and saves an image.
// The output is named after the input.
func (pe *PhotoEditor) ProcessFile(ctx context.Context, address string, e Edits) (string, error) {
	s, err := pe.Open(ctx, address, editor.WithSuggestedName(editor.SaveName(address)))
	if err != nil {
		return "", err
	}
	defer s.Close()

	warnings, err := pe.Apply(ctx, s, e)
	if err != nil {
		return "", fmt.Errorf("failed to apply edits: %w", err)
	}
	for _, w := range warnings {
		pe.logger.WithField("address", address).WithError(w).Warn("edit skipped")
	}

	return s.Save(ctx)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
