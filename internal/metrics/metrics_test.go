package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Confirmations.Add(2)
	m.FramesRead.Add(10)
	m.StreamFramesDropped.Store(3)
	m.SetActive(true)
	m.UpdateInferenceLatency(42 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "sentinel_confirmations_total 2")
	assert.Contains(t, out, "sentinel_frames_read_total 10")
	assert.Contains(t, out, "sentinel_stream_frames_dropped_total 3")
	assert.Contains(t, out, "sentinel_detection_active 1")
	assert.Contains(t, out, "sentinel_inference_latency_ms 42")
}
