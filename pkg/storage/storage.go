// Package storage persists edited images as new files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/photo-editor/internal/utils"
)

var (
	// ErrIO is returned when the output file cannot be written or renamed into place
	ErrIO = errors.New("storage write failed")
	// ErrPermissionDenied is returned when the output directory refuses writes
	ErrPermissionDenied = errors.New("storage permission denied")
)

// Sink writes a pixel buffer to durable storage and returns its address
type Sink interface {
	Write(ctx context.Context, img image.Image, suggestedName string) (string, error)
}

// Format is a lossless output encoding
type Format string

const (
	PNG  Format = "png"
	WebP Format = "webp"
)

// ParseFormat validates an output format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case PNG, "":
		return PNG, nil
	case WebP:
		return WebP, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// DirSink writes images into a single directory. Files are written under a
// temporary name and renamed into place only once fully flushed.
type DirSink struct {
	Dir    string
	Format Format
	Prefix string

	logger logrus.FieldLogger
	now    func() time.Time
}

// NewDirSink creates a sink writing PNG files into dir
func NewDirSink(dir string, logger logrus.FieldLogger) *DirSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DirSink{
		Dir:    dir,
		Format: PNG,
		logger: logger,
		now:    time.Now,
	}
}

// Write encodes img into a new uniquely named file and returns its path
func (s *DirSink) Write(ctx context.Context, img image.Image, suggestedName string) (string, error) {
	if img == nil {
		return "", fmt.Errorf("%w: nil image", ErrIO)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}

	format := s.Format
	if format == "" {
		format = PNG
	}

	if err := utils.EnsureDir(s.Dir); err != nil {
		return "", classify("create directory", err)
	}

	final := filepath.Join(s.Dir, s.filename(suggestedName, format))
	tmp, err := os.CreateTemp(s.Dir, "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return "", classify("create file", err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := encode(tmp, img, format); err != nil {
		return "", classify("encode image", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", classify("flush file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", classify("close file", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", classify("finalize file", err)
	}
	committed = true

	if abs, err := filepath.Abs(final); err == nil {
		final = abs
	}
	s.logger.WithFields(logrus.Fields{
		"path":   final,
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("image written")
	return final, nil
}

// filename builds <prefix><name>_<unix millis>_<random>.<ext>
func (s *DirSink) filename(suggested string, format Format) string {
	base := filepath.Base(suggested)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = utils.SanitizeFilename(base)
	if base == "" || base == "." {
		base = "edited_image"
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s_%d_%s.%s", s.Prefix, base, s.now().UnixMilli(), id, format)
}

func encode(w io.Writer, img image.Image, format Format) error {
	switch format {
	case WebP:
		return webp.Encode(w, img, &webp.Options{Lossless: true})
	case PNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	}
	return fmt.Errorf("unsupported output format: %s", format)
}

func classify(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}
