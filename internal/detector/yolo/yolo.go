// Package yolo runs a YOLOv8/v11 ONNX export through the OpenCV DNN module.
package yolo

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/clearcity/ai-sentinel/internal/detector"
	"github.com/clearcity/ai-sentinel/internal/logger"
)

// Config holds YOLO detector configuration.
type Config struct {
	ModelPath string
	// ScoreThreshold filters raw candidates before NMS. Confirmation uses
	// its own, higher threshold.
	ScoreThreshold float32
	NMSThreshold   float32
	InputSize      int
	Classes        []string
}

// DefaultConfig returns defaults for a 640x640 export.
func DefaultConfig() Config {
	return Config{
		ModelPath:      "models/garbage_detect.onnx",
		ScoreThreshold: 0.25,
		NMSThreshold:   0.45,
		InputSize:      640,
	}
}

// Detector wraps a loaded network. Calls are serialised.
type Detector struct {
	mu     sync.Mutex
	net    gocv.Net
	config Config
	input  image.Point
}

var _ detector.Detector = (*Detector)(nil)

// New loads the model. A missing or unreadable artifact is an error.
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger.Info("YOLO", "Model loaded: %s (input %dx%d)", cfg.ModelPath, cfg.InputSize, cfg.InputSize)

	return &Detector{
		net:    net,
		config: cfg,
		input:  image.Pt(cfg.InputSize, cfg.InputSize),
	}, nil
}

// Detect runs one forward pass over img.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, d.input, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.parse(output, float32(mat.Cols()), float32(mat.Rows()))
}

// parse decodes a [1, 4+C, N] output tensor.
func (d *Detector) parse(output gocv.Mat, imgW, imgH float32) ([]detector.Detection, error) {
	sizes := output.Size()
	if len(sizes) != 3 || sizes[1] <= 4 {
		return nil, fmt.Errorf("unexpected output shape %v", sizes)
	}
	attrs, n := sizes[1], sizes[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	sx := imgW / float32(d.input.X)
	sy := imgH / float32(d.input.Y)

	for i := 0; i < n; i++ {
		best, cls := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := data[c*n+i]; s > best {
				best, cls = s, c-4
			}
		}
		if best < d.config.ScoreThreshold {
			continue
		}

		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		))
		scores = append(scores, best)
		classes = append(classes, cls)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, d.config.ScoreThreshold, d.config.NMSThreshold)
	dets := make([]detector.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, detector.Detection{
			Label:      d.className(classes[idx]),
			Confidence: float64(scores[idx]),
			Box:        boxes[idx],
		})
	}
	return dets, nil
}

func (d *Detector) className(id int) string {
	if id >= 0 && id < len(d.config.Classes) {
		return d.config.Classes[id]
	}
	return "class_" + strconv.Itoa(id)
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
