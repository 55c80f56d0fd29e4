package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame pipeline counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesPublished atomic.Uint64
	FramesDropped   atomic.Uint64

	// Frames a slow stream client missed
	StreamFramesDropped atomic.Uint64

	// Error counters
	ReadErrors   atomic.Uint64
	DetectErrors atomic.Uint64
	EncodeErrors atomic.Uint64

	// Validation
	Confirmations   atomic.Uint64
	Resets          atomic.Uint64
	ValidationCount atomic.Uint64
	DetectionActive atomic.Uint64 // 0 = paused, 1 = active

	// Latency tracking
	InferenceLatencyMs atomic.Uint64

	// HTTP stream clients
	StreamClients  atomic.Int64
	WebRTCClients  atomic.Int64
	SnapshotsTaken atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		fn,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("sentinel_frames_read_total", "Total frames read from the camera", &m.FramesRead)
	m.counter("sentinel_frames_processed_total", "Total frames run through the detector", &m.FramesProcessed)
	m.counter("sentinel_frames_published_total", "Total frames published to the frame buffer", &m.FramesPublished)
	m.counter("sentinel_frames_dropped_total", "Total frames skipped after encode failures", &m.FramesDropped)

	m.counter("sentinel_stream_frames_dropped_total", "Total frames skipped for slow stream clients", &m.StreamFramesDropped)

	m.counter("sentinel_read_errors_total", "Total transient camera read failures", &m.ReadErrors)
	m.counter("sentinel_detect_errors_total", "Total detector failures", &m.DetectErrors)
	m.counter("sentinel_encode_errors_total", "Total JPEG encode failures", &m.EncodeErrors)

	m.counter("sentinel_confirmations_total", "Total confirmed detections", &m.Confirmations)
	m.counter("sentinel_validation_resets_total", "Total validation runs lost to a missed frame", &m.Resets)
	m.counter("sentinel_snapshots_total", "Total snapshot requests served", &m.SnapshotsTaken)

	m.gauge("sentinel_validation_count", "Current consecutive qualifying frames",
		func() float64 { return float64(m.ValidationCount.Load()) })
	m.gauge("sentinel_detection_active", "Detection active (0=paused, 1=active)",
		func() float64 { return float64(m.DetectionActive.Load()) })
	m.gauge("sentinel_inference_latency_ms", "Latest inference latency in milliseconds",
		func() float64 { return float64(m.InferenceLatencyMs.Load()) })
	m.gauge("sentinel_stream_clients", "Connected MJPEG stream clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("sentinel_webrtc_clients", "Connected WebRTC event clients",
		func() float64 { return float64(m.WebRTCClients.Load()) })
}

// UpdateInferenceLatency records the latest detector latency.
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetActive records the detection toggle state.
func (m *Metrics) SetActive(active bool) {
	if active {
		m.DetectionActive.Store(1)
	} else {
		m.DetectionActive.Store(0)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
