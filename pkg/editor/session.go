// Package editor implements the photo edit session: one working image, its
// edit state, and the composition that turns both into a preview or an
// exported image.
//
// Composition always starts from the base buffer (the original, or the
// committed crop) and applies the active filter and then the text overlay.
// Filters therefore never accumulate when the user switches between them.
//
// A Session is meant to be driven from a single goroutine. Load and Save may
// run in the background through LoadAsync and SaveAsync; while a save is
// pending every edit is rejected with ErrSaveInProgress so the saved address
// is installed before the next edit is accepted.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/photo-editor/pkg/filters"
	"github.com/menta2k/photo-editor/pkg/overlay"
	"github.com/menta2k/photo-editor/pkg/source"
	"github.com/menta2k/photo-editor/pkg/storage"
	"github.com/menta2k/photo-editor/pkg/suggest"
	"github.com/menta2k/photo-editor/pkg/transform"
	"github.com/menta2k/photo-editor/pkg/types"
)

// DefaultSuggestedName is the base name handed to the sink on save
const DefaultSuggestedName = "edited_image"

// EditState is the user-visible edit record of a session
type EditState struct {
	RotationDegrees float64
	Filter          filters.Kind
	Overlay         types.TextOverlay
	// CropRect is the pending rectangle while cropping, otherwise the last
	// committed one (relative to the buffer it was cut from).
	CropRect      *types.Rect
	CropCommitted bool
}

// SaveResult is delivered by SaveAsync
type SaveResult struct {
	Address string
	Err     error
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger used for warnings and lifecycle events
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStamper sets the text renderer
func WithStamper(stamper *overlay.Stamper) Option {
	return func(s *Session) { s.stamper = stamper }
}

// WithPreviewMaxSize renders previews with neither side above maxSide pixels.
// Zero keeps previews at full resolution.
func WithPreviewMaxSize(maxSide int) Option {
	return func(s *Session) { s.previewMaxSize = maxSide }
}

// WithSuggestedName sets the base file name passed to the sink
func WithSuggestedName(name string) Option {
	return func(s *Session) { s.suggestedName = name }
}

// WithDefaultOverlay sets the overlay colour, size and position a freshly
// loaded image starts with
func WithDefaultOverlay(o types.TextOverlay) Option {
	return func(s *Session) { s.defaultOverlay = o }
}

// Session holds the edit state for a single image
type Session struct {
	source  source.Source
	sink    storage.Sink
	stamper *overlay.Stamper
	logger  logrus.FieldLogger

	previewMaxSize int
	suggestedName  string
	defaultOverlay types.TextOverlay

	mu            sync.Mutex
	address       string
	original      *image.NRGBA
	cropped       *image.NRGBA
	preview       *image.NRGBA
	state         EditState
	cropping      bool
	pending       types.Rect
	committedRect *types.Rect
	warnings      []error

	saving atomic.Bool
}

// New creates an empty session reading from src and saving to sink
func New(src source.Source, sink storage.Sink, opts ...Option) *Session {
	s := &Session{
		source:         src,
		sink:           sink,
		logger:         logrus.StandardLogger(),
		suggestedName:  DefaultSuggestedName,
		defaultOverlay: types.DefaultOverlay(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stamper == nil {
		stamper, err := overlay.New()
		if err != nil {
			s.logger.WithError(err).Warn("text overlay disabled")
		}
		s.stamper = stamper
	}
	s.state = EditState{Overlay: s.defaultOverlay}
	return s
}

// Load resolves address through the source and makes it the working image.
// On failure the session is left empty.
func (s *Session) Load(ctx context.Context, address string) error {
	if s.saving.Load() {
		return ErrSaveInProgress
	}

	img, err := s.source.Resolve(ctx, address)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving.Load() {
		return ErrSaveInProgress
	}

	log := s.logger.WithField("address", address)
	s.reset()
	s.address = ""
	if err != nil {
		log.WithError(err).Error("failed to load image")
		return &LoadError{Address: address, Err: err}
	}

	buf, err := s.guard("load", func() (*image.NRGBA, error) { return transform.Clone(img) })
	if err != nil {
		log.WithError(err).Error("failed to copy image")
		return &LoadError{Address: address, Err: err}
	}

	s.address = address
	s.original = buf
	s.refreshPreview()
	log.WithFields(logrus.Fields{
		"width":  buf.Bounds().Dx(),
		"height": buf.Bounds().Dy(),
	}).Info("image loaded")
	return nil
}

// LoadAsync runs Load on a new goroutine
func (s *Session) LoadAsync(ctx context.Context, address string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.Load(ctx, address)
		close(ch)
	}()
	return ch
}

// ApplyFilter selects the active filter. Only the preview changes; the base
// buffer is untouched.
func (s *Session) ApplyFilter(kind filters.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", filters.ErrUnknownFilter, int(kind))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving.Load() {
		return ErrSaveInProgress
	}

	s.state.Filter = kind
	s.refreshPreview()
	return nil
}

// Rotate turns the active buffer 90 degrees clockwise
func (s *Session) Rotate() error {
	return s.RotateBy(90)
}

// RotateBy turns the active buffer clockwise by a multiple of 90 degrees.
// After a committed crop only the cropped buffer is rotated.
func (s *Session) RotateBy(degrees float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}

	base := s.active()
	out, err := s.guard("rotate", func() (*image.NRGBA, error) { return transform.Rotate(base, degrees) })
	if err != nil {
		s.warn(err)
		return nil
	}

	s.setActive(out)
	s.state.RotationDegrees = transform.NormalizeAngle(s.state.RotationDegrees + degrees)
	if s.cropping {
		s.setPending(transform.CenteredSquare(out.Bounds().Dx(), out.Bounds().Dy()))
	}
	s.refreshPreview()
	return nil
}

// BeginCrop enters crop mode with the centred square of the active buffer
// as the pending rectangle
func (s *Session) BeginCrop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}

	b := s.active().Bounds()
	s.cropping = true
	s.setPending(transform.CenteredSquare(b.Dx(), b.Dy()))
	s.refreshPreview()
	return nil
}

// SuggestCrop enters crop mode with a rectangle chosen by sg. When the
// suggester fails the centred square is used and a warning is recorded.
// The session is not locked while sg runs; if the image is replaced in the
// meantime the suggestion is dropped and ErrImageChanged is returned.
func (s *Session) SuggestCrop(ctx context.Context, sg suggest.Suggester) error {
	s.mu.Lock()
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return err
	}
	// buffers are replaced, never written, so base is safe to read unlocked
	base := s.active()
	s.mu.Unlock()

	rect, suggestErr := sg.Suggest(ctx, base)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if s.active() != base {
		s.logger.WithField("address", s.address).Debug("crop suggestion dropped")
		return ErrImageChanged
	}

	if suggestErr != nil {
		s.warn(&TransformError{Op: "suggest crop", Err: suggestErr})
		rect = transform.CenteredSquare(base.Bounds().Dx(), base.Bounds().Dy())
	}

	s.cropping = true
	s.setPending(rect)
	s.refreshPreview()
	return nil
}

// SetCropRect moves the pending crop rectangle, entering crop mode if needed
func (s *Session) SetCropRect(rect types.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}

	if !s.cropping {
		s.cropping = true
		s.refreshPreview()
	}
	s.setPending(rect)
	return nil
}

// CommitPendingCrop commits the pending rectangle of the crop tool
func (s *Session) CommitPendingCrop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if !s.cropping {
		return ErrNotCropping
	}
	s.commitCrop(s.pending)
	return nil
}

// CommitCrop replaces the active buffer with the region rect (clamped to
// the buffer). A rectangle outside the buffer leaves everything unchanged
// and keeps the crop tool open.
func (s *Session) CommitCrop(rect types.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.commitCrop(rect)
	return nil
}

// commitCrop expects s.mu to be held
func (s *Session) commitCrop(rect types.Rect) {
	base := s.active()
	out, err := s.guard("crop", func() (*image.NRGBA, error) { return transform.Crop(base, rect) })
	if err != nil {
		s.warn(err)
		s.cropping = true
		s.setPending(rect)
		return
	}

	applied := types.RectFrom(rect.Rectangle().Intersect(base.Bounds()))
	s.cropped = out
	s.committedRect = &applied
	s.state.CropCommitted = true
	s.state.CropRect = &applied
	s.cropping = false
	s.refreshPreview()

	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"rect":    applied.String(),
	}).Debug("crop committed")
}

// CancelCrop leaves crop mode without touching any buffer
func (s *Session) CancelCrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cropping {
		return
	}

	s.cropping = false
	s.state.CropRect = copyRect(s.committedRect)
	s.refreshPreview()
}

// SetOverlayText sets the text overlay stamped during composition
func (s *Session) SetOverlayText(content string, c color.NRGBA, position types.Point, size float64) error {
	return s.SetOverlay(types.TextOverlay{
		Content:  content,
		Color:    c,
		Position: position,
		FontSize: size,
	})
}

// SetOverlay replaces the text overlay. The base buffer is not modified.
func (s *Session) SetOverlay(o types.TextOverlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving.Load() {
		return ErrSaveInProgress
	}

	s.state.Overlay = o
	s.refreshPreview()
	return nil
}

// ClearOverlay removes the overlay text, keeping its colour, size and position
func (s *Session) ClearOverlay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving.Load() {
		return ErrSaveInProgress
	}

	s.state.Overlay.Content = ""
	s.refreshPreview()
	return nil
}

// Preview returns the current display buffer, or nil without an image. The
// buffer is replaced, never modified, by later edits.
func (s *Session) Preview() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// ComputePreview recomputes and returns the preview
func (s *Session) ComputePreview() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshPreview()
	return s.preview
}

// Export composes the edits at full resolution
func (s *Session) Export() (*image.NRGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.original == nil {
		return nil, ErrNoImage
	}
	return s.compose(s.active(), 0), nil
}

// Save exports the image and writes it through the sink. On success the
// returned address becomes the session's working address. A failed save
// keeps all edits so it can be retried.
func (s *Session) Save(ctx context.Context) (string, error) {
	if !s.saving.CompareAndSwap(false, true) {
		return "", ErrSaveInProgress
	}
	return s.save(ctx)
}

// SaveAsync starts Save on a new goroutine. A save already in flight makes
// the returned channel yield ErrSaveInProgress immediately.
func (s *Session) SaveAsync(ctx context.Context) <-chan SaveResult {
	ch := make(chan SaveResult, 1)
	if !s.saving.CompareAndSwap(false, true) {
		ch <- SaveResult{Err: ErrSaveInProgress}
		close(ch)
		return ch
	}

	go func() {
		addr, err := s.save(ctx)
		ch <- SaveResult{Address: addr, Err: err}
		close(ch)
	}()
	return ch
}

// save expects the saving flag to be held by the caller and releases it
func (s *Session) save(ctx context.Context) (string, error) {
	defer s.saving.Store(false)

	s.mu.Lock()
	if s.original == nil {
		s.mu.Unlock()
		return "", ErrNoImage
	}
	out := s.compose(s.active(), 0)
	name := s.suggestedName
	log := s.logger.WithField("address", s.address)
	s.mu.Unlock()

	addr, err := s.sink.Write(ctx, out, name)
	if err != nil {
		log.WithError(err).Error("failed to save image")
		return "", &SaveError{Err: err}
	}

	s.mu.Lock()
	s.address = addr
	s.mu.Unlock()

	log.WithField("saved", addr).Info("image saved")
	return addr, nil
}

// Saving reports whether a save is in flight
func (s *Session) Saving() bool {
	return s.saving.Load()
}

// State returns a copy of the edit state
func (s *Session) State() EditState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.CropRect = copyRect(s.state.CropRect)
	return st
}

// Address returns the working address
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// HasImage reports whether an image is loaded
func (s *Session) HasImage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original != nil
}

// Cropping reports whether the crop tool is active
func (s *Session) Cropping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cropping
}

// Base returns a copy of the buffer edits currently apply to
func (s *Session) Base() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.original == nil {
		return nil
	}
	return imaging.Clone(s.active())
}

// Warnings returns and clears the non-fatal failures recorded since the last call
func (s *Session) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.warnings
	s.warnings = nil
	return w
}

// Close drops every buffer held by the session
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.address = ""
}

// SaveName derives a sink name from an address, e.g. for batch edits that
// should keep the source file name
func SaveName(address string) string {
	base := filepath.Base(strings.TrimPrefix(address, "file://"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return DefaultSuggestedName
	}
	return base + "_edited"
}

func (s *Session) editable() error {
	if s.saving.Load() {
		return ErrSaveInProgress
	}
	if s.original == nil {
		return ErrNoImage
	}
	return nil
}

func (s *Session) active() *image.NRGBA {
	if s.state.CropCommitted && s.cropped != nil {
		return s.cropped
	}
	return s.original
}

func (s *Session) setActive(img *image.NRGBA) {
	if s.state.CropCommitted && s.cropped != nil {
		s.cropped = img
		return
	}
	s.original = img
}

func (s *Session) setPending(rect types.Rect) {
	s.pending = rect
	s.state.CropRect = copyRect(&rect)
}

func (s *Session) reset() {
	s.original = nil
	s.cropped = nil
	s.preview = nil
	s.cropping = false
	s.pending = types.Rect{}
	s.committedRect = nil
	s.state = EditState{Overlay: s.defaultOverlay}
}

func (s *Session) refreshPreview() {
	if s.original == nil {
		s.preview = nil
		return
	}
	base := s.active()
	if s.cropping {
		// the crop tool works on the unfiltered pixels
		out, _, err := transform.FitPreview(base, s.previewMaxSize)
		if err != nil {
			s.warn(&TransformError{Op: "preview", Err: err})
			return
		}
		s.preview = out
		return
	}
	s.preview = s.compose(base, s.previewMaxSize)
}

// compose renders base, scaled to maxSide when positive, with the active
// filter and then the overlay text. Failed steps are skipped with a warning.
func (s *Session) compose(base *image.NRGBA, maxSide int) *image.NRGBA {
	img, scale := base, 1.0
	if maxSide > 0 {
		fitted, sc, err := transform.FitPreview(base, maxSide)
		if err != nil {
			s.warn(&TransformError{Op: "preview", Err: err})
		} else {
			img, scale = fitted, sc
		}
	}

	kind := s.state.Filter
	out, err := s.guard("filter "+kind.String(), func() (*image.NRGBA, error) { return filters.Apply(img, kind) })
	if err != nil {
		s.warn(err)
		out = imaging.Clone(img)
	}

	o := s.state.Overlay
	if o.Content == "" {
		return out
	}
	o.Position.X *= scale
	o.Position.Y *= scale
	o.FontSize *= scale

	stamped, err := s.guard("text overlay", func() (*image.NRGBA, error) {
		if s.stamper == nil {
			return nil, errors.New("no font available")
		}
		return s.stamper.Stamp(out, o)
	})
	if err != nil {
		s.warn(err)
		return out
	}
	return stamped
}

// guard runs a pixel operation, turning errors and panics into a TransformError
func (s *Session) guard(op string, fn func() (*image.NRGBA, error)) (out *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &TransformError{Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = fn()
	if err != nil {
		return nil, &TransformError{Op: op, Err: err}
	}
	if out == nil {
		return nil, &TransformError{Op: op, Err: errors.New("no result")}
	}
	return out, nil
}

func (s *Session) warn(err error) {
	s.warnings = append(s.warnings, err)
	s.logger.WithFields(logrus.Fields{
		"address": s.address,
	}).WithError(err).Warn("edit operation skipped")
}

func copyRect(r *types.Rect) *types.Rect {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
