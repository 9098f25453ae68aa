package editor

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImage is returned by operations that need a loaded image
	ErrNoImage = errors.New("no image loaded")
	// ErrSaveInProgress is returned while a save for the session is pending
	ErrSaveInProgress = errors.New("save already in progress")
	// ErrImageChanged is returned when the image was replaced while a crop
	// suggestion was being computed
	ErrImageChanged = errors.New("image changed during crop suggestion")
	// ErrNotCropping is returned when a pending crop is committed outside crop mode
	ErrNotCropping = errors.New("crop tool is not active")
)

// LoadError reports that an address could not be turned into an image
type LoadError struct {
	Address string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Address, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TransformError reports a pixel operation that could not complete. The
// session keeps the buffer it had before the operation.
type TransformError struct {
	Op  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// SaveError reports that the composed image could not be persisted. Edit
// state is kept so the save can be retried.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save image: %v", e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }
