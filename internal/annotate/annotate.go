// Package annotate draws detection boxes and status banners onto frames.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/clearcity/ai-sentinel/internal/detector"
)

// PausedText is drawn on every frame while detection is off.
const PausedText = "PAUSED - Click Start in Dashboard"

var (
	Validating = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Confirmed  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Paused     = color.RGBA{R: 255, G: 165, B: 0, A: 255}

	boxAbove = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	boxBelow = color.RGBA{R: 0, G: 128, B: 255, A: 255}
	banner   = color.RGBA{A: 160}
)

// Canvas returns a drawable RGBA view of img, copying only when needed.
func Canvas(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// Boxes outlines each detection with a "label conf" caption. Detections
// above threshold are drawn in a distinct colour.
func Boxes(dst draw.Image, dets []detector.Detection, threshold float64) {
	for _, d := range dets {
		c := boxBelow
		if d.Confidence > threshold {
			c = boxAbove
		}
		rect(dst, d.Box, c, 2)

		caption := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		y := d.Box.Min.Y - 4
		if y < 13 {
			y = d.Box.Min.Y + 15
		}
		text(dst, caption, image.Pt(d.Box.Min.X+2, y), c)
	}
}

// Status draws a banner with text at (10,30).
func Status(dst draw.Image, s string, c color.Color) {
	if s == "" {
		return
	}
	text(dst, s, image.Pt(10, 30), c)
}

// Pause draws the paused notice at (30,50).
func Pause(dst draw.Image) {
	text(dst, PausedText, image.Pt(30, 50), Paused)
}

// EncodeJPEG encodes img at quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// text draws s with its baseline at pt over a translucent backing.
func text(dst draw.Image, s string, pt image.Point, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(pt.X, pt.Y),
	}

	w := d.MeasureString(s).Ceil()
	m := face.Metrics()
	bg := image.Rect(pt.X-3, pt.Y-m.Ascent.Ceil()-3, pt.X+w+3, pt.Y+m.Descent.Ceil()+3)
	draw.Draw(dst, bg.Intersect(dst.Bounds()), image.NewUniform(banner), image.Point{}, draw.Over)

	d.DrawString(s)
}

func rect(dst draw.Image, r image.Rectangle, c color.Color, thickness int) {
	r = r.Canon().Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	for i := 0; i < thickness; i++ {
		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1),
			image.Rect(r.Min.X, r.Max.Y-i-1, r.Max.X, r.Max.Y-i),
			image.Rect(r.Min.X+i, r.Min.Y, r.Min.X+i+1, r.Max.Y),
			image.Rect(r.Max.X-i-1, r.Min.Y, r.Max.X-i, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
		}
	}
}
