// Package source resolves image addresses into decoded pixel buffers.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNotFound is returned when nothing exists at the address
	ErrNotFound = errors.New("image not found")
	// ErrUnsupportedFormat is returned when the bytes cannot be decoded as an allowed format
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrPermissionDenied is returned when the address exists but cannot be read
	ErrPermissionDenied = errors.New("permission denied")
)

// Source loads an addressable image into memory
type Source interface {
	Resolve(ctx context.Context, address string) (image.Image, error)
}

// Config holds configuration for the resolver
type Config struct {
	SupportedFormats []string
	AutoOrient       bool
	HTTPTimeout      time.Duration
	MaxBytes         int64
}

// DefaultConfig returns the resolver defaults
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "gif", "webp", "bmp", "tiff"},
		AutoOrient:       true,
		HTTPTimeout:      30 * time.Second,
		MaxBytes:         64 << 20,
	}
}

// Resolver loads images from local paths, file:// URLs and http(s) URLs
type Resolver struct {
	config Config
	client *http.Client
	logger logrus.FieldLogger
}

// New creates a Resolver with default configuration
func New(logger logrus.FieldLogger) *Resolver {
	return NewWithConfig(DefaultConfig(), logger)
}

// NewWithConfig creates a Resolver with custom configuration
func NewWithConfig(config Config, logger logrus.FieldLogger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{
		config: config,
		client: &http.Client{Timeout: config.HTTPTimeout},
		logger: logger,
	}
}

// Resolve loads and decodes the image at address
func (r *Resolver) Resolve(ctx context.Context, address string) (image.Image, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNotFound)
	}

	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(address, "http://"), strings.HasPrefix(address, "https://"):
		data, err = r.fetch(ctx, address)
	default:
		data, err = r.readFile(address)
	}
	if err != nil {
		return nil, err
	}

	img, format, err := r.decode(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	r.logger.WithFields(logrus.Fields{
		"address": address,
		"format":  format,
		"width":   b.Dx(),
		"height":  b.Dy(),
	}).Debug("image resolved")
	return img, nil
}

func (r *Resolver) readFile(address string) ([]byte, error) {
	path := address
	if strings.HasPrefix(address, "file://") {
		u, err := url.Parse(address)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid file URL %q: %v", ErrNotFound, address, err)
		}
		path = u.Path
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, classifyFSError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, classifyFSError(path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, path)
	}

	data, err := io.ReadAll(r.limit(f))
	if err != nil {
		return nil, classifyFSError(path, err)
	}
	return data, nil
}

func (r *Resolver) fetch(ctx context.Context, address string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrNotFound, err)
	}
	req.Header.Set("User-Agent", "Photo-Editor/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s (HTTP %d)", ErrNotFound, address, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s (HTTP %d)", ErrPermissionDenied, address, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return nil, fmt.Errorf("%w: URL does not point to an image (Content-Type: %s)", ErrUnsupportedFormat, contentType)
	}

	data, err := io.ReadAll(r.limit(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

func (r *Resolver) limit(rd io.Reader) io.Reader {
	if r.config.MaxBytes <= 0 {
		return rd
	}
	return io.LimitReader(rd, r.config.MaxBytes)
}

// decode tries the registered decoders first, then the cgo WebP decoder
func (r *Resolver) decode(data []byte) (image.Image, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if img, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
			return r.checked(img, "webp")
		}
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if !r.isFormatSupported(format) {
		return nil, format, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(r.config.AutoOrient))
	if err != nil {
		return nil, format, fmt.Errorf("%w: failed to decode %s: %v", ErrUnsupportedFormat, format, err)
	}
	return img, format, nil
}

func (r *Resolver) checked(img image.Image, format string) (image.Image, string, error) {
	if !r.isFormatSupported(format) {
		return nil, format, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return img, format, nil
}

func (r *Resolver) isFormatSupported(format string) bool {
	if format == "jpg" {
		format = "jpeg"
	}
	for _, supported := range r.config.SupportedFormats {
		if supported == "jpg" {
			supported = "jpeg"
		}
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

func classifyFSError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
}
