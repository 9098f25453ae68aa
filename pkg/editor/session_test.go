package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/photo-editor/pkg/filters"
	"github.com/menta2k/photo-editor/pkg/source"
	"github.com/menta2k/photo-editor/pkg/transform"
	"github.com/menta2k/photo-editor/pkg/types"
)

type memSource struct {
	images map[string]image.Image
}

func (m *memSource) Resolve(_ context.Context, address string) (image.Image, error) {
	img, ok := m.images[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, address)
	}
	return img, nil
}

type memSink struct {
	mu      sync.Mutex
	saved   []*image.NRGBA
	names   []string
	err     error
	entered chan struct{}
	release chan struct{}
}

func (m *memSink) Write(_ context.Context, img image.Image, name string) (string, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, img.(*image.NRGBA))
	m.names = append(m.names, name)
	return fmt.Sprintf("mem://%s_%d.png", name, len(m.saved)), nil
}

type rectSuggester struct {
	rect types.Rect
	err  error
}

func (r rectSuggester) Suggest(context.Context, image.Image) (types.Rect, error) {
	return r.rect, r.err
}

// blockingSuggester reports on entered and waits for release before answering
type blockingSuggester struct {
	rect    types.Rect
	entered chan struct{}
	release chan struct{}
}

func (b blockingSuggester) Suggest(context.Context, image.Image) (types.Rect, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.rect, nil
}

func newBlockingSuggester(rect types.Rect) blockingSuggester {
	return blockingSuggester{
		rect:    rect,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

// createTestImage creates an image where every pixel is distinct
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), uint8(x + 2*y), 255})
		}
	}
	return img
}

func whiteImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func newTestSession(t *testing.T, images map[string]image.Image, sink *memSink, opts ...Option) (*Session, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	if sink == nil {
		sink = &memSink{}
	}
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New(&memSource{images: images}, sink, opts...), hook
}

func loaded(t *testing.T, img image.Image, sink *memSink, opts ...Option) (*Session, *test.Hook) {
	t.Helper()
	s, hook := newTestSession(t, map[string]image.Image{"photo": img}, sink, opts...)
	require.NoError(t, s.Load(context.Background(), "photo"))
	return s, hook
}

func TestLoad(t *testing.T) {
	img := createTestImage(100, 80)
	s, _ := loaded(t, img, nil)

	assert.True(t, s.HasImage())
	assert.Equal(t, "photo", s.Address())
	require.NotNil(t, s.Preview())
	assert.Equal(t, img.Pix, s.Preview().Pix)

	st := s.State()
	assert.Equal(t, filters.None, st.Filter)
	assert.Zero(t, st.RotationDegrees)
	assert.False(t, st.CropCommitted)
	assert.Nil(t, st.CropRect)
	assert.Equal(t, types.DefaultOverlay(), st.Overlay)
}

func TestLoadCopiesSource(t *testing.T) {
	img := createTestImage(10, 10)
	s, _ := loaded(t, img, nil)

	img.Pix[0] = 250
	assert.Equal(t, uint8(0), s.Base().Pix[0])
}

func TestLoadFailureLeavesSessionEmpty(t *testing.T) {
	s, hook := loaded(t, createTestImage(10, 10), nil)

	err := s.Load(context.Background(), "missing")
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "missing", loadErr.Address)
	assert.True(t, errors.Is(err, source.ErrNotFound))

	assert.False(t, s.HasImage())
	assert.Nil(t, s.Preview())
	assert.Equal(t, "", s.Address())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	assert.True(t, errors.Is(s.Rotate(), ErrNoImage))
	assert.True(t, errors.Is(s.BeginCrop(), ErrNoImage))
	_, err = s.Export()
	assert.True(t, errors.Is(err, ErrNoImage))
}

func TestAsyncLoad(t *testing.T) {
	s, _ := newTestSession(t, map[string]image.Image{"photo": createTestImage(5, 5)}, nil)

	require.NoError(t, <-s.LoadAsync(context.Background(), "photo"))
	assert.True(t, s.HasImage())
}

func TestApplyFilterIsIdempotent(t *testing.T) {
	s, _ := loaded(t, createTestImage(32, 32), nil)

	for _, k := range filters.All() {
		require.NoError(t, s.ApplyFilter(k))
		first := s.Preview().Pix
		require.NoError(t, s.ApplyFilter(k))
		assert.Equal(t, first, s.Preview().Pix, "filter %s", k)
	}
}

func TestFiltersDoNotAccumulate(t *testing.T) {
	s, _ := loaded(t, createTestImage(32, 32), nil)

	require.NoError(t, s.ApplyFilter(filters.Sepia))
	sepia := s.Preview().Pix

	require.NoError(t, s.ApplyFilter(filters.Brighten))
	require.NoError(t, s.ApplyFilter(filters.Sepia))
	assert.Equal(t, sepia, s.Preview().Pix)

	require.NoError(t, s.ApplyFilter(filters.None))
	assert.Equal(t, s.Base().Pix, s.Preview().Pix)
}

func TestApplyFilterLeavesBase(t *testing.T) {
	img := createTestImage(16, 16)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.ApplyFilter(filters.Contrast))
	assert.Equal(t, img.Pix, s.Base().Pix)
	assert.NotEqual(t, img.Pix, s.Preview().Pix)
	assert.Equal(t, filters.Contrast, s.State().Filter)
}

func TestApplyUnknownFilter(t *testing.T) {
	s, _ := loaded(t, createTestImage(4, 4), nil)

	err := s.ApplyFilter(filters.Kind(99))
	assert.True(t, errors.Is(err, filters.ErrUnknownFilter))
	assert.Equal(t, filters.None, s.State().Filter)
}

func TestRotate(t *testing.T) {
	s, _ := loaded(t, createTestImage(40, 20), nil)

	require.NoError(t, s.Rotate())
	base := s.Base()
	assert.Equal(t, 20, base.Bounds().Dx())
	assert.Equal(t, 40, base.Bounds().Dy())
	assert.Equal(t, 90.0, s.State().RotationDegrees)
	assert.Equal(t, base.Bounds(), s.Preview().Bounds())
}

func TestRotateFourTimesRestoresOrientation(t *testing.T) {
	img := createTestImage(33, 21)
	s, _ := loaded(t, img, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Rotate())
	}
	assert.Equal(t, img.Bounds(), s.Base().Bounds())
	assert.Equal(t, img.Pix, s.Base().Pix)
	assert.Zero(t, s.State().RotationDegrees)
}

func TestRotateByUnsupportedAngleWarns(t *testing.T) {
	img := createTestImage(10, 10)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.RotateBy(45))
	assert.Equal(t, img.Pix, s.Base().Pix)
	assert.Zero(t, s.State().RotationDegrees)

	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	var tErr *TransformError
	require.True(t, errors.As(warnings[0], &tErr))
	assert.Equal(t, "rotate", tErr.Op)
	assert.Empty(t, s.Warnings(), "warnings are drained")
}

func TestCommitCrop(t *testing.T) {
	img := createTestImage(100, 100)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.BeginCrop())
	require.NoError(t, s.CommitCrop(types.Rect{X: 10, Y: 10, W: 50, H: 50}))

	base := s.Base()
	assert.Equal(t, 50, base.Bounds().Dx())
	assert.Equal(t, 50, base.Bounds().Dy())
	assert.Equal(t, img.NRGBAAt(10, 10), base.NRGBAAt(0, 0))

	st := s.State()
	assert.True(t, st.CropCommitted)
	require.NotNil(t, st.CropRect)
	assert.Equal(t, types.Rect{X: 10, Y: 10, W: 50, H: 50}, *st.CropRect)
	assert.False(t, s.Cropping())
}

func TestCommitCropWithoutBegin(t *testing.T) {
	s, _ := loaded(t, createTestImage(100, 100), nil)

	require.NoError(t, s.CommitCrop(types.Rect{X: 80, Y: 80, W: 50, H: 50}))
	assert.Equal(t, 20, s.Base().Bounds().Dx())
	assert.Equal(t, types.Rect{X: 80, Y: 80, W: 20, H: 20}, *s.State().CropRect)
}

func TestCancelCropRestoresBuffer(t *testing.T) {
	img := createTestImage(60, 40)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.BeginCrop())
	assert.True(t, s.Cropping())
	assert.Equal(t, types.Rect{X: 10, Y: 0, W: 40, H: 40}, *s.State().CropRect)

	require.NoError(t, s.SetCropRect(types.Rect{X: 1, Y: 1, W: 5, H: 5}))
	s.CancelCrop()

	assert.False(t, s.Cropping())
	assert.Equal(t, img.Pix, s.Base().Pix)
	assert.False(t, s.State().CropCommitted)
	assert.Nil(t, s.State().CropRect)
}

func TestCancelAfterCommitKeepsCroppedBuffer(t *testing.T) {
	s, _ := loaded(t, createTestImage(100, 100), nil)

	require.NoError(t, s.CommitCrop(types.Rect{X: 0, Y: 0, W: 50, H: 30}))
	cropped := s.Base().Pix

	require.NoError(t, s.BeginCrop())
	s.CancelCrop()

	assert.Equal(t, cropped, s.Base().Pix)
	assert.True(t, s.State().CropCommitted)
	assert.Equal(t, types.Rect{X: 0, Y: 0, W: 50, H: 30}, *s.State().CropRect)
}

func TestRotateAfterCropUsesCroppedBuffer(t *testing.T) {
	img := createTestImage(100, 100)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.CommitCrop(types.Rect{X: 0, Y: 0, W: 60, H: 30}))
	require.NoError(t, s.Rotate())

	base := s.Base()
	assert.Equal(t, 30, base.Bounds().Dx())
	assert.Equal(t, 60, base.Bounds().Dy())
	// bottom-left of the crop lands top-left
	assert.Equal(t, img.NRGBAAt(0, 29), base.NRGBAAt(0, 0))
}

func TestCommitCropOutsideImageWarns(t *testing.T) {
	img := createTestImage(20, 20)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.BeginCrop())
	require.NoError(t, s.CommitCrop(types.Rect{X: 50, Y: 50, W: 10, H: 10}))

	assert.Equal(t, img.Pix, s.Base().Pix)
	assert.False(t, s.State().CropCommitted)
	assert.True(t, s.Cropping(), "crop tool stays open for another attempt")
	assert.Len(t, s.Warnings(), 1)
}

func TestCommitCropFarOutsideImageWarns(t *testing.T) {
	img := createTestImage(100, 100)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.CommitCrop(types.Rect{X: math.MaxInt, Y: 0, W: 1, H: 1}))

	assert.Equal(t, img.Pix, s.Base().Pix)
	assert.False(t, s.State().CropCommitted)
	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	assert.True(t, errors.Is(warnings[0], transform.ErrEmptyCrop))
}

func TestCommitPendingCropOutsideCropMode(t *testing.T) {
	s, _ := loaded(t, createTestImage(40, 40), nil)
	assert.True(t, errors.Is(s.CommitPendingCrop(), ErrNotCropping))

	require.NoError(t, s.SetCropRect(types.Rect{X: 0, Y: 0, W: 10, H: 10}))
	s.CancelCrop()
	assert.True(t, errors.Is(s.CommitPendingCrop(), ErrNotCropping))
	assert.Equal(t, 40, s.Base().Bounds().Dx())

	empty, _ := newTestSession(t, nil, nil)
	assert.True(t, errors.Is(empty.CommitPendingCrop(), ErrNoImage))
}

func TestCropPreviewIsUnfiltered(t *testing.T) {
	img := createTestImage(20, 20)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.ApplyFilter(filters.Sepia))
	require.NoError(t, s.BeginCrop())
	assert.Equal(t, img.Pix, s.Preview().Pix)

	s.CancelCrop()
	assert.NotEqual(t, img.Pix, s.Preview().Pix)
}

func TestSuggestCrop(t *testing.T) {
	s, _ := loaded(t, createTestImage(100, 60), nil)

	require.NoError(t, s.SuggestCrop(context.Background(), rectSuggester{rect: types.Rect{X: 5, Y: 5, W: 30, H: 30}}))
	assert.True(t, s.Cropping())
	assert.Equal(t, types.Rect{X: 5, Y: 5, W: 30, H: 30}, *s.State().CropRect)

	require.NoError(t, s.CommitPendingCrop())
	assert.Equal(t, 30, s.Base().Bounds().Dx())
	assert.Error(t, s.CommitPendingCrop())
}

func TestSuggestCropDoesNotBlockReaders(t *testing.T) {
	s, _ := loaded(t, createTestImage(100, 60), nil)
	sg := newBlockingSuggester(types.Rect{X: 5, Y: 5, W: 30, H: 30})

	result := make(chan error, 1)
	go func() { result <- s.SuggestCrop(context.Background(), sg) }()
	select {
	case <-sg.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("suggester was never called")
	}

	read := make(chan struct{})
	go func() {
		s.Preview()
		s.State()
		s.Address()
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("readers blocked while the suggestion was pending")
	}

	close(sg.release)
	require.NoError(t, <-result)
	assert.True(t, s.Cropping())
	assert.Equal(t, types.Rect{X: 5, Y: 5, W: 30, H: 30}, *s.State().CropRect)
}

func TestSuggestCropDropsStaleSuggestion(t *testing.T) {
	s, _ := loaded(t, createTestImage(100, 60), nil)
	sg := newBlockingSuggester(types.Rect{X: 5, Y: 5, W: 30, H: 30})

	result := make(chan error, 1)
	go func() { result <- s.SuggestCrop(context.Background(), sg) }()
	select {
	case <-sg.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("suggester was never called")
	}

	require.NoError(t, s.Rotate())
	close(sg.release)

	assert.True(t, errors.Is(<-result, ErrImageChanged))
	assert.False(t, s.Cropping())
	assert.Nil(t, s.State().CropRect)
	assert.Equal(t, 60, s.Base().Bounds().Dx())
}

func TestSuggestCropFallsBack(t *testing.T) {
	s, _ := loaded(t, createTestImage(100, 60), nil)

	require.NoError(t, s.SuggestCrop(context.Background(), rectSuggester{err: errors.New("model offline")}))
	assert.Equal(t, types.Rect{X: 20, Y: 0, W: 60, H: 60}, *s.State().CropRect)
	assert.Len(t, s.Warnings(), 1)
}

func TestOverlayOnlyAppliedInComposition(t *testing.T) {
	img := whiteImage(120, 60)
	s, _ := loaded(t, img, nil)

	require.NoError(t, s.SetOverlayText("Hello", color.NRGBA{0, 0, 0, 255}, types.Point{X: 5, Y: 40}, 28))
	assert.Equal(t, img.Pix, s.Base().Pix)
	assert.NotEqual(t, img.Pix, s.Preview().Pix)

	exported, err := s.Export()
	require.NoError(t, err)
	assert.Equal(t, s.Preview().Pix, exported.Pix)

	require.NoError(t, s.ClearOverlay())
	assert.Equal(t, img.Pix, s.Preview().Pix)
	assert.Equal(t, 28.0, s.State().Overlay.FontSize)
}

func TestOverlayWithInvalidSizeWarns(t *testing.T) {
	img := whiteImage(20, 20)
	s, hook := loaded(t, img, nil)

	require.NoError(t, s.SetOverlayText("oops", color.NRGBA{0, 0, 0, 255}, types.Point{X: 1, Y: 10}, 0))
	assert.Equal(t, img.Pix, s.Preview().Pix)

	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	var tErr *TransformError
	require.True(t, errors.As(warnings[0], &tErr))
	assert.Equal(t, "text overlay", tErr.Op)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestPreviewMaxSize(t *testing.T) {
	s, _ := loaded(t, createTestImage(400, 200), nil, WithPreviewMaxSize(100))

	assert.Equal(t, 100, s.Preview().Bounds().Dx())
	assert.Equal(t, 50, s.Preview().Bounds().Dy())

	exported, err := s.Export()
	require.NoError(t, err)
	assert.Equal(t, 400, exported.Bounds().Dx())
	assert.Equal(t, 200, exported.Bounds().Dy())
}

func TestSaveWithoutImage(t *testing.T) {
	s, _ := newTestSession(t, nil, nil)

	_, err := s.Save(context.Background())
	assert.True(t, errors.Is(err, ErrNoImage))
	assert.False(t, s.Saving())
}

func TestSave(t *testing.T) {
	sink := &memSink{}
	s, _ := loaded(t, createTestImage(30, 30), sink)

	require.NoError(t, s.ApplyFilter(filters.Red))
	require.NoError(t, s.CommitCrop(types.Rect{X: 0, Y: 0, W: 20, H: 10}))
	want, err := s.Export()
	require.NoError(t, err)

	addr, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mem://edited_image_1.png", addr)
	assert.Equal(t, addr, s.Address())

	require.Len(t, sink.saved, 1)
	assert.Equal(t, want.Pix, sink.saved[0].Pix)
	assert.Equal(t, []string{DefaultSuggestedName}, sink.names)

	// edits survive the save
	assert.Equal(t, filters.Red, s.State().Filter)
	assert.True(t, s.State().CropCommitted)
}

func TestSaveFailureKeepsEdits(t *testing.T) {
	diskFull := errors.New("no space left on device")
	sink := &memSink{err: diskFull}
	s, _ := loaded(t, createTestImage(10, 10), sink, WithSuggestedName("holiday"))

	require.NoError(t, s.ApplyFilter(filters.Sepia))
	_, err := s.Save(context.Background())

	var saveErr *SaveError
	require.True(t, errors.As(err, &saveErr))
	assert.True(t, errors.Is(err, diskFull))
	assert.True(t, s.HasImage())
	assert.Equal(t, "photo", s.Address())
	assert.Equal(t, filters.Sepia, s.State().Filter)

	sink.err = nil
	addr, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mem://holiday_1.png", addr)
}

func TestSecondSaveWhilePendingIsRejected(t *testing.T) {
	sink := &memSink{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := loaded(t, createTestImage(10, 10), sink)

	first := s.SaveAsync(context.Background())
	select {
	case <-sink.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("save never reached the sink")
	}

	assert.True(t, s.Saving())
	_, err := s.Save(context.Background())
	assert.True(t, errors.Is(err, ErrSaveInProgress))
	second := <-s.SaveAsync(context.Background())
	assert.True(t, errors.Is(second.Err, ErrSaveInProgress))

	// edits wait for the saved address
	assert.True(t, errors.Is(s.Rotate(), ErrSaveInProgress))
	assert.True(t, errors.Is(s.ApplyFilter(filters.Blue), ErrSaveInProgress))
	assert.True(t, errors.Is(s.Load(context.Background(), "photo"), ErrSaveInProgress))
	assert.True(t, errors.Is(s.ClearOverlay(), ErrSaveInProgress))
	assert.True(t, errors.Is(s.CommitPendingCrop(), ErrSaveInProgress))

	close(sink.release)
	res := <-first
	require.NoError(t, res.Err)
	assert.Equal(t, res.Address, s.Address())
	assert.False(t, s.Saving())

	require.NoError(t, s.Rotate())
	assert.Len(t, sink.saved, 1)
}

func TestGuardRecoversPanics(t *testing.T) {
	s, _ := newTestSession(t, nil, nil)

	out, err := s.guard("explode", func() (*image.NRGBA, error) { panic("boom") })
	assert.Nil(t, out)
	var tErr *TransformError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, "explode", tErr.Op)

	_, err = s.guard("nothing", func() (*image.NRGBA, error) { return nil, nil })
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	s, _ := loaded(t, createTestImage(10, 10), nil)
	s.Close()

	assert.False(t, s.HasImage())
	assert.Nil(t, s.Preview())
	assert.Equal(t, "", s.Address())
}

func TestSaveName(t *testing.T) {
	assert.Equal(t, "IMG_0001_edited", SaveName("/sdcard/DCIM/IMG_0001.jpg"))
	assert.Equal(t, "beach_edited", SaveName("file:///tmp/beach.png"))
	assert.Equal(t, DefaultSuggestedName, SaveName(""))
}
