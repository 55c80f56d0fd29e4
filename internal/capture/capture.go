// Package capture defines the frame source contract shared by the camera
// and synthetic sources.
package capture

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrSourceUnavailable means the source cannot be opened or has gone
	// away for good.
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrFrameDropped means a single read failed; the caller should retry.
	ErrFrameDropped = errors.New("frame dropped")
)

// Source yields frames in capture order. The returned image is owned by
// the caller.
type Source interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}
