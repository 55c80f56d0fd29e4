// Package camera reads frames from a local device or stream URL via OpenCV.
package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/clearcity/ai-sentinel/internal/capture"
	"github.com/clearcity/ai-sentinel/internal/logger"
)

// Camera wraps a gocv VideoCapture.
type Camera struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	source string
	closed bool
}

var _ capture.Source = (*Camera)(nil)

// Open opens device, which is either a device index (int) or a URL/path
// string understood by OpenCV. width and height are requested, not
// guaranteed.
func Open(device interface{}, width, height int) (*Camera, error) {
	source := fmt.Sprint(device)
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", capture.ErrSourceUnavailable, source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %q not opened", capture.ErrSourceUnavailable, source)
	}

	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	logger.Info("Camera", "Opened %q (%.0fx%.0f)", source,
		vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight))

	return &Camera{
		cap:    vc,
		mat:    gocv.NewMat(),
		source: source,
	}, nil
}

// Read grabs the next frame. A failed grab returns capture.ErrFrameDropped.
func (c *Camera) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, capture.ErrSourceUnavailable
	}
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, capture.ErrFrameDropped
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrFrameDropped, err)
	}
	return img, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.cap.Close()
}
