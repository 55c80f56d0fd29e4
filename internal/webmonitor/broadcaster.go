package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clearcity/ai-sentinel/internal/logger"
	"github.com/clearcity/ai-sentinel/internal/sentinel"
	"github.com/clearcity/ai-sentinel/internal/validation"
)

// SerializedEvent carries one event pre-encoded in both wire formats.
// ProtobufData is base64 so it can travel inside an SSE data line.
type SerializedEvent struct {
	Kind         string
	JSONData     []byte
	ProtobufData []byte
}

// StatusSource provides the status document.
type StatusSource interface {
	Status() sentinel.Status
}

// StatusBroadcaster manages fanout of status and confirmation events to
// SSE clients and registered sinks.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	sinks    []func(*SerializedEvent)
	source   StatusSource
	stop     chan struct{}
	stopped  bool
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster(source StatusSource, interval time.Duration) *StatusBroadcaster {
	if interval <= 0 {
		interval = DefaultConfig().StatusInterval
	}
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		source:   source,
		stop:     make(chan struct{}),
		interval: interval,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 4)
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// AddSink registers fn to receive every event. Sinks must not block.
func (sb *StatusBroadcaster) AddSink(fn func(*SerializedEvent)) {
	sb.mu.Lock()
	sb.sinks = append(sb.sinks, fn)
	sb.mu.Unlock()
}

// Start begins the periodic status loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if !sb.stopped {
		close(sb.stop)
		sb.stopped = true
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			sb.mu.Lock()
			idle := len(sb.clients) == 0 && len(sb.sinks) == 0
			sb.mu.Unlock()
			if idle {
				continue
			}
			sb.PublishStatus()
		}
	}
}

// StatusEvent serializes the current status.
func (sb *StatusBroadcaster) StatusEvent() (*SerializedEvent, error) {
	payload := statusPayload(sb.source.Status())
	payload["type"] = "status"
	payload["timestamp"] = isoNow()
	return serialize("status", payload)
}

// PublishStatus sends the current status to every client now.
func (sb *StatusBroadcaster) PublishStatus() {
	event, err := sb.StatusEvent()
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize status: %v", err)
		return
	}
	sb.broadcast(event)
}

// PublishConfirmation sends a confirmation event followed by a fresh
// status so counters update immediately.
func (sb *StatusBroadcaster) PublishConfirmation(c validation.Confirmation) {
	st := sb.source.Status()
	ev := ConfirmationEvent{
		Type:       "confirmation",
		CameraID:   st.CameraID,
		Count:      c.Count,
		Confidence: c.Confidence,
		Timestamp:  c.At.Format(time.RFC3339Nano),
	}
	event, err := serialize("confirmation", map[string]any{
		"type":       ev.Type,
		"camera_id":  ev.CameraID,
		"count":      ev.Count,
		"confidence": ev.Confidence,
		"timestamp":  ev.Timestamp,
	})
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize confirmation: %v", err)
		return
	}
	sb.broadcast(event)
	sb.PublishStatus()
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	sinks := sb.sinks
	for id, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			logger.Debug("StatusBroadcaster", "Client #%d too slow, skipping %s event", id, event.Kind)
		}
	}
	sb.mu.Unlock()

	for _, fn := range sinks {
		fn(event)
	}
}

// statusPayload flattens a status into the generic map shared by the JSON
// and protobuf encodings.
func statusPayload(st sentinel.Status) map[string]any {
	return map[string]any{
		"active":               st.Active,
		"camera_id":            st.CameraID,
		"confidence_threshold": st.ConfidenceThreshold,
		"demo_mode":            st.DemoMode,
		"stats": map[string]any{
			"total_detections":     st.Stats.TotalDetections,
			"reports_created":      st.Stats.ReportsCreated,
			"verifications_passed": st.Stats.VerificationsPassed,
			"verifications_failed": st.Stats.VerificationsFailed,
			"is_detecting":         st.Stats.IsDetecting,
			"validation_count":     st.Stats.ValidationCount,
		},
	}
}

// statusProto encodes a status as a protobuf Struct.
func statusProto(st sentinel.Status) ([]byte, error) {
	s, err := structpb.NewStruct(statusPayload(st))
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(s)
}

func serialize(kind string, payload map[string]any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	s, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		Kind:         kind,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func isoNow() string {
	return time.Now().Format(time.RFC3339Nano)
}
