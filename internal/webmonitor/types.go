package webmonitor

// ToggleResponse is the payload for POST /api/toggle.
type ToggleResponse struct {
	Active bool `json:"active"`
}

// SnapshotResponse is the payload for GET /api/snapshot.
type SnapshotResponse struct {
	Image     string `json:"image"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is returned with every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status          string                       `json:"status"`
	Active          bool                         `json:"active"`
	ValidationState string                       `json:"validation_state"`
	ValidationCount int                          `json:"validation_count"`
	RequiredFrames  int                          `json:"required_frames"`
	HasFrame        bool                         `json:"has_frame"`
	FrameSeq        uint64                       `json:"frame_seq"`
	StreamClients   int                          `json:"stream_clients"`
	FramesDropped   uint64                       `json:"stream_frames_dropped"`
	WebRTCClients   int                          `json:"webrtc_clients"`
	WebRTCStats     map[string]map[string]uint64 `json:"webrtc_stats,omitempty"`
}

// ConfirmationEvent is pushed to status subscribers when a detection is
// confirmed.
type ConfirmationEvent struct {
	Type       string  `json:"type"`
	CameraID   string  `json:"camera_id"`
	Count      int     `json:"count"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}
