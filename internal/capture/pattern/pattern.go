// Package pattern provides a synthetic colour-bar frame source.
package pattern

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/clearcity/ai-sentinel/internal/capture"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var bars = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

const markerSize = 40

// Source renders colour bars with a marker that sweeps across the frame.
type Source struct {
	width, height int
	interval      time.Duration

	mu     sync.Mutex
	frame  int
	next   time.Time
	closed bool
}

var _ capture.Source = (*Source)(nil)

// New creates a source producing width x height frames at fps.
func New(width, height, fps int) *Source {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}
	return &Source{width: width, height: height, interval: interval}
}

// Read waits for the next frame slot and renders it.
func (s *Source) Read(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, capture.ErrSourceUnavailable
	}
	now := time.Now()
	wait := s.next.Sub(now)
	if s.next.Before(now) {
		s.next = now
	}
	s.next = s.next.Add(s.interval)
	n := s.frame
	s.frame++
	s.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.render(n), nil
}

// Marker returns the marker rectangle drawn on frame n.
func (s *Source) Marker(n int) image.Rectangle {
	span := s.width - markerSize
	if span <= 0 {
		span = 1
	}
	x := (n * 8) % span
	y := s.height/2 - markerSize/2
	return image.Rect(x, y, x+markerSize, y+markerSize)
}

func (s *Source) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))

	barWidth := s.width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	row := img.Pix[:s.width*4]
	for x := 0; x < s.width; x++ {
		i := x / barWidth
		if i >= len(bars) {
			i = len(bars) - 1
		}
		c := bars[i]
		row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = c.R, c.G, c.B, c.A
	}
	for y := 1; y < s.height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+s.width*4], row)
	}

	m := s.Marker(n).Intersect(img.Bounds())
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	for y := m.Min.Y; y < m.Max.Y; y++ {
		for x := m.Min.X; x < m.Max.X; x++ {
			img.SetRGBA(x, y, gray)
		}
	}
	return img
}

// Close stops the source; further reads fail.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
