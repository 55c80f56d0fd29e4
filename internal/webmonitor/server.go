package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/clearcity/ai-sentinel/internal/framebuf"
	"github.com/clearcity/ai-sentinel/internal/logger"
	"github.com/clearcity/ai-sentinel/internal/metrics"
	"github.com/clearcity/ai-sentinel/internal/sentinel"
	"github.com/clearcity/ai-sentinel/internal/validation"
)

const protobufContentType = "application/x-protobuf"

// Controller is the detection state the HTTP surface reads and toggles.
type Controller interface {
	Status() sentinel.Status
	Toggle() bool
	Validation() validation.Snapshot
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
	GetClientStats() map[string]map[string]uint64
}

// Server serves the dashboard, video feed and control API.
type Server struct {
	cfg     Config
	ctl     Controller
	frames  *framebuf.Buffer
	metrics *metrics.Metrics
	rtc     OfferHandler
	status  *StatusBroadcaster
	limiter *rateLimiter
	index   []byte
}

// NewServer returns a configured server and starts its status broadcaster.
// rtc may be nil, in which case the offer endpoint reports 503.
func NewServer(cfg Config, ctl Controller, frames *framebuf.Buffer, m *metrics.Metrics, rtc OfferHandler) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.StreamKeepAlive <= 0 {
		cfg.StreamKeepAlive = def.StreamKeepAlive
	}
	if cfg.SSEKeepAlive <= 0 {
		cfg.SSEKeepAlive = def.SSEKeepAlive
	}
	if cfg.AllowOrigin == "" {
		cfg.AllowOrigin = def.AllowOrigin
	}
	if cfg.Title == "" {
		cfg.Title = def.Title
	}
	if cfg.RequiredFrames <= 0 {
		cfg.RequiredFrames = def.RequiredFrames
	}
	if m == nil {
		m = metrics.New()
	}

	var limiter *rateLimiter
	if cfg.RateLimit > 0 {
		limiter = newRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	var page bytes.Buffer
	if err := indexTemplate.Execute(&page, indexData{
		Title:          cfg.Title,
		Threshold:      ctl.Status().ConfidenceThreshold * 100,
		RequiredFrames: cfg.RequiredFrames,
	}); err != nil {
		logger.Error("WebMonitor", "Render index: %v", err)
	}

	status := NewStatusBroadcaster(ctl, cfg.StatusInterval)
	status.Start()

	return &Server{
		cfg:     cfg,
		ctl:     ctl,
		frames:  frames,
		metrics: m,
		rtc:     rtc,
		status:  status,
		limiter: limiter,
		index:   page.Bytes(),
	}
}

// Broadcaster exposes the status broadcaster for event wiring.
func (s *Server) Broadcaster() *StatusBroadcaster {
	return s.status
}

// Close stops background work.
func (s *Server) Close() {
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/toggle", s.limiter.limit(s.handleToggle))
	mux.HandleFunc("/api/snapshot", s.limiter.limit(s.handleSnapshot))
	mux.HandleFunc("/api/webrtc/offer", s.limiter.limit(s.handleWebRTCOffer))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	return requestLogMiddleware(corsMiddleware(s.cfg.AllowOrigin, mux))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONWithStatus(w, ErrorResponse{Error: "Not found"}, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.index)
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	s.metrics.StreamClients.Add(1)
	defer s.metrics.StreamClients.Add(-1)

	var first *framebuf.Frame
	if f, ok := s.frames.Latest(); ok {
		first = &f
	}
	streamMJPEGFromChannel(r.Context(), w, frameCh, first, s.cfg.StreamKeepAlive)
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, protobufContentType)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.ctl.Status()

	if wantsProtobuf(r) {
		data, err := statusProto(st)
		if err != nil {
			writeJSONWithStatus(w, ErrorResponse{Error: err.Error()}, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", protobufContentType)
		_, _ = w.Write(data)
		return
	}

	writeJSON(w, st)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	first, err := s.status.StatusEvent()
	if err != nil {
		logger.Error("WebMonitor", "Serialize status: %v", err)
	}
	streamStatusEventsFromChannel(r.Context(), w, eventCh, first, wantsProtobuf(r), s.cfg.SSEKeepAlive)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONWithStatus(w, ErrorResponse{Error: "Method not allowed"}, http.StatusMethodNotAllowed)
		return
	}

	active := s.ctl.Toggle()
	s.status.PublishStatus()
	writeJSON(w, ToggleResponse{Active: active})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	f, err := s.frames.Snapshot()
	if errors.Is(err, framebuf.ErrNoFrame) {
		writeJSONWithStatus(w, ErrorResponse{Error: "No frame"}, http.StatusServiceUnavailable)
		return
	}

	s.metrics.SnapshotsTaken.Add(1)
	writeJSON(w, SnapshotResponse{
		Image:     "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.JPEG),
		Timestamp: time.Now().Format("2006-01-02T15:04:05.000000"),
	})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONWithStatus(w, ErrorResponse{Error: "Method not allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if s.rtc == nil {
		writeJSONWithStatus(w, ErrorResponse{Error: "WebRTC unavailable"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, ErrorResponse{Error: "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, ErrorResponse{Error: "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.rtc.HandleOffer(body)
	if err != nil {
		logger.Warn("WebMonitor", "WebRTC offer error: %v", err)
		writeJSONWithStatus(w, ErrorResponse{Error: fmt.Sprintf("Failed to handle offer: %v", err)}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.ctl.Validation()
	resp := HealthResponse{
		Status:          "ok",
		Active:          s.ctl.Status().Active,
		ValidationState: v.State.String(),
		ValidationCount: v.Count,
		RequiredFrames:  v.Required,
		StreamClients:   s.frames.Clients(),
		FramesDropped:   s.frames.Dropped(),
	}
	if f, ok := s.frames.Latest(); ok {
		resp.HasFrame = true
		resp.FrameSeq = f.Seq
	}
	if s.rtc != nil {
		resp.WebRTCClients = s.rtc.GetClientCount()
		resp.WebRTCStats = s.rtc.GetClientStats()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
