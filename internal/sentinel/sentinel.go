// Package sentinel runs the capture, detect, validate and publish loop and
// owns the state shared with the HTTP surface.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/clearcity/ai-sentinel/internal/annotate"
	"github.com/clearcity/ai-sentinel/internal/capture"
	"github.com/clearcity/ai-sentinel/internal/detector"
	"github.com/clearcity/ai-sentinel/internal/framebuf"
	"github.com/clearcity/ai-sentinel/internal/logger"
	"github.com/clearcity/ai-sentinel/internal/metrics"
	"github.com/clearcity/ai-sentinel/internal/validation"
)

// Stats are the counters exposed on the status endpoint.
type Stats struct {
	TotalDetections     int  `json:"total_detections"`
	ReportsCreated      int  `json:"reports_created"`
	VerificationsPassed int  `json:"verifications_passed"`
	VerificationsFailed int  `json:"verifications_failed"`
	IsDetecting         bool `json:"is_detecting"`
	ValidationCount     int  `json:"validation_count"`
}

// Status is a consistent copy of the externally visible state.
type Status struct {
	Active              bool    `json:"active"`
	CameraID            string  `json:"camera_id"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	DemoMode            bool    `json:"demo_mode"`
	Stats               Stats   `json:"stats"`
}

// Config controls the loop.
type Config struct {
	CameraID            string
	ConfidenceThreshold float64
	RequiredFrames      int
	ConfirmLabel        string
	DemoMode            bool
	DemoSeed            bool
	StartActive         bool
	RetryDelay          time.Duration
	JPEGQuality         int
}

// DefaultConfig mirrors config.Default.
func DefaultConfig() Config {
	return Config{
		CameraID:            "demo-camera-001",
		ConfidenceThreshold: 0.95,
		RequiredFrames:      validation.DefaultRequiredFrames,
		ConfirmLabel:        "GARBAGE",
		DemoMode:            true,
		RetryDelay:          100 * time.Millisecond,
		JPEGQuality:         80,
	}
}

// Sentinel is the detection loop plus its shared state.
type Sentinel struct {
	cfg     Config
	src     capture.Source
	det     detector.Detector
	buf     *framebuf.Buffer
	metrics *metrics.Metrics

	mu        sync.Mutex
	active    bool
	epoch     uint64
	validator *validation.Validator
	stats     Stats
	pending   []validation.Confirmation
	listeners []func(validation.Confirmation)

	validatingLog rate.Sometimes
	detectErrLog  rate.Sometimes
}

// New wires a sentinel. A nil detector means detector.None; a nil metrics
// gets a private instance.
func New(cfg Config, src capture.Source, det detector.Detector, buf *framebuf.Buffer, m *metrics.Metrics) *Sentinel {
	if det == nil {
		det = detector.None{}
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 80
	}

	s := &Sentinel{
		cfg:           cfg,
		src:           src,
		det:           det,
		buf:           buf,
		metrics:       m,
		active:        cfg.StartActive,
		validatingLog: rate.Sometimes{Interval: 2 * time.Second},
		detectErrLog:  rate.Sometimes{Interval: 5 * time.Second},
	}
	s.validator = validation.New(cfg.RequiredFrames,
		validation.WithLabel(cfg.ConfirmLabel),
		validation.WithOnConfirm(func(c validation.Confirmation) {
			// Step runs under s.mu.
			s.pending = append(s.pending, c)
		}),
	)
	if cfg.DemoSeed {
		s.stats = seedStats()
	}
	m.SetActive(s.active)
	return s
}

// seedStats fills the counters with plausible values for demos.
func seedStats() Stats {
	between := func(lo, hi int) int { return lo + rand.Intn(hi-lo+1) }
	return Stats{
		TotalDetections:     between(50, 150),
		ReportsCreated:      between(20, 45),
		VerificationsPassed: between(15, 35),
		VerificationsFailed: between(2, 8),
	}
}

// OnConfirm registers fn to be called after each confirmation. Listeners
// run on the loop goroutine and must not block.
func (s *Sentinel) OnConfirm(fn func(validation.Confirmation)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Run processes frames until ctx is done or the source fails permanently.
func (s *Sentinel) Run(ctx context.Context) error {
	logger.Info("Sentinel", "Detection loop started (threshold %.0f%%, %d-frame validation, active=%v)",
		s.cfg.ConfidenceThreshold*100, s.validator.Required(), s.Active())

	for {
		if ctx.Err() != nil {
			return nil
		}

		img, err := s.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, capture.ErrSourceUnavailable) {
				return fmt.Errorf("read frame: %w", err)
			}
			s.metrics.ReadErrors.Add(1)
			logger.Debug("Sentinel", "Frame read failed: %v", err)
			if !sleep(ctx, s.cfg.RetryDelay) {
				return nil
			}
			continue
		}
		s.metrics.FramesRead.Add(1)

		s.process(ctx, img)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// process annotates one frame and publishes it.
func (s *Sentinel) process(ctx context.Context, img image.Image) {
	s.mu.Lock()
	active, epoch := s.active, s.epoch
	s.mu.Unlock()

	canvas := annotate.Canvas(img)

	if !active {
		annotate.Pause(canvas)
	} else {
		start := time.Now()
		dets, err := s.det.Detect(ctx, canvas)
		s.metrics.UpdateInferenceLatency(time.Since(start))

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.DetectErrors.Add(1)
			s.detectErrLog.Do(func() {
				logger.Warn("Sentinel", "Detector failed: %v", err)
			})
			// A frame without a result breaks the consecutive run.
			s.apply(epoch, false, 0)
		} else {
			s.metrics.FramesProcessed.Add(1)
			annotate.Boxes(canvas, dets, s.cfg.ConfidenceThreshold)

			ok, conf := validation.Qualify(dets, s.cfg.ConfidenceThreshold)
			if text, state, applied := s.apply(epoch, ok, conf); applied && text != "" {
				c := annotate.Validating
				if state == validation.Confirmed {
					c = annotate.Confirmed
				}
				annotate.Status(canvas, text, c)
			}
			s.notify()
		}
	}

	data, err := annotate.EncodeJPEG(canvas, s.cfg.JPEGQuality)
	if err != nil {
		s.metrics.EncodeErrors.Add(1)
		s.metrics.FramesDropped.Add(1)
		logger.Warn("Sentinel", "JPEG encode failed: %v", err)
		return
	}

	b := canvas.Bounds()
	s.buf.Write(framebuf.Frame{
		JPEG:      data,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: time.Now(),
	})
	s.metrics.FramesPublished.Add(1)
	s.metrics.StreamFramesDropped.Store(s.buf.Dropped())
}

// apply feeds one detection result into the validator unless a toggle
// happened while it was being computed.
func (s *Sentinel) apply(epoch uint64, qualifying bool, conf float64) (string, validation.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || !s.active {
		return "", validation.Idle, false
	}

	prev := s.validator.Count()
	state, confirmed := s.validator.Step(qualifying, conf)
	count := s.validator.Count()

	if qualifying {
		s.stats.ValidationCount = count
		if state == validation.Confirmed {
			s.stats.IsDetecting = true
		}
		if confirmed {
			s.stats.TotalDetections++
			s.metrics.Confirmations.Add(1)
			logger.Info("Sentinel", "CONFIRMED: %s validated (%d frames @ %.1f%%)",
				s.cfg.ConfirmLabel, count, conf*100)
		} else if state == validation.Validating {
			s.validatingLog.Do(func() {
				logger.Info("Sentinel", "Validating... (%d/%d frames)", count, s.validator.Required())
			})
		}
	} else {
		if prev > 0 {
			s.metrics.Resets.Add(1)
			logger.Info("Sentinel", "Reset: Lost detection after %d frames", prev)
		}
		s.stats.IsDetecting = false
		s.stats.ValidationCount = 0
	}
	s.metrics.ValidationCount.Store(uint64(count))

	return s.validator.Overlay(), state, true
}

// notify delivers queued confirmations outside the lock.
func (s *Sentinel) notify() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	listeners := s.listeners
	s.mu.Unlock()

	for _, c := range pending {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

// Toggle flips detection and returns the new state. Turning detection off
// clears the validation run.
func (s *Sentinel) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setActiveLocked(!s.active)
	return s.active
}

// SetActive sets detection on or off.
func (s *Sentinel) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setActiveLocked(active)
}

func (s *Sentinel) setActiveLocked(active bool) {
	if s.active == active {
		return
	}
	s.active = active
	s.epoch++
	if !active {
		s.validator.Reset()
		s.stats.IsDetecting = false
		s.stats.ValidationCount = 0
		s.metrics.ValidationCount.Store(0)
	}
	s.metrics.SetActive(active)

	if active {
		logger.Info("Sentinel", "STARTED detection")
	} else {
		logger.Info("Sentinel", "PAUSED detection")
	}
}

// Active reports whether detection is on.
func (s *Sentinel) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Status returns a consistent copy of the current state.
func (s *Sentinel) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:              s.active,
		CameraID:            s.cfg.CameraID,
		ConfidenceThreshold: s.cfg.ConfidenceThreshold,
		DemoMode:            s.cfg.DemoMode,
		Stats:               s.stats,
	}
}

// Validation returns the validator state.
func (s *Sentinel) Validation() validation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validator.Snapshot()
}

// Close releases the source and detector.
func (s *Sentinel) Close() error {
	return errors.Join(s.src.Close(), s.det.Close())
}
