package vision

import (
	"context"

	"github.com/menta2k/photo-editor/pkg/types"
)

// Client locates the dominant subject of an encoded image
type Client interface {
	LocateSubject(ctx context.Context, model, prompt string, image []byte) (*types.Subject, error)
}
