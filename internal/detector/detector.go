// Package detector defines the object detector capability and the
// backends that do not need OpenCV.
package detector

import (
	"context"
	"image"
)

// Detection is one object found in a frame.
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"-"`
}

// Detector finds objects in a frame. Implementations need not be safe for
// concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// None never reports anything.
type None struct{}

func (None) Detect(context.Context, image.Image) ([]Detection, error) { return nil, nil }
func (None) Close() error                                             { return nil }
