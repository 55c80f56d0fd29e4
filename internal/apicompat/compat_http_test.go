package apicompat

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
)

func TestCompatIndex(t *testing.T) {
	client := newAPIClient(t)
	resp, body := client.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("GET / content-type = %q", resp.Header.Get("Content-Type"))
	}
	html := string(body)
	for _, needle := range []string{"<title>AI Sentinel - DEMO</title>", "/video_feed"} {
		if !strings.Contains(html, needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}
}

func TestCompatStatus(t *testing.T) {
	client := newAPIClient(t)
	resp, body := client.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("GET /api/status missing CORS header")
	}
	assertStatusPayload(t, decodeJSONMap(t, body))
}

func TestCompatToggleRoundTrip(t *testing.T) {
	client := newAPIClient(t)

	_, body := client.get(t, "/api/status")
	before := requireBool(t, decodeJSONMap(t, body)["active"], "active")

	resp, body := client.post(t, "/api/toggle")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/toggle status = %d", resp.StatusCode)
	}
	flipped := requireBool(t, decodeJSONMap(t, body)["active"], "active")
	if flipped == before {
		t.Fatalf("toggle did not flip active (still %v)", flipped)
	}

	if !flipped {
		_, body = client.get(t, "/api/status")
		stats := requireMap(t, decodeJSONMap(t, body)["stats"], "stats")
		if n := requireNumber(t, stats["validation_count"], "stats.validation_count"); n != 0 {
			t.Fatalf("validation_count after pause = %v, want 0", n)
		}
	}

	// restore
	_, body = client.post(t, "/api/toggle")
	if requireBool(t, decodeJSONMap(t, body)["active"], "active") != before {
		t.Fatalf("second toggle did not restore state")
	}
}

func TestCompatSnapshot(t *testing.T) {
	client := newAPIClient(t)
	resp, body := client.get(t, "/api/snapshot")
	payload := decodeJSONMap(t, body)

	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		if requireString(t, payload["error"], "error") != "No frame" {
			t.Fatalf("unexpected warm-up error: %v", payload["error"])
		}
	case http.StatusOK:
		image := requireString(t, payload["image"], "image")
		const prefix = "data:image/jpeg;base64,"
		if !strings.HasPrefix(image, prefix) {
			t.Fatalf("image missing data URL prefix: %.40s", image)
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(image, prefix))
		if err != nil {
			t.Fatalf("image not base64: %v", err)
		}
		if len(raw) < 4 || raw[0] != 0xff || raw[1] != 0xd8 {
			t.Fatalf("image is not a JPEG")
		}
		requireString(t, payload["timestamp"], "timestamp")
	default:
		t.Fatalf("GET /api/snapshot status = %d", resp.StatusCode)
	}
}

func TestCompatToggleRejectsGet(t *testing.T) {
	client := newAPIClient(t)
	resp, _ := client.get(t, "/api/toggle")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/toggle status = %d, want 405", resp.StatusCode)
	}
}

func TestCompatHealthAndMetrics(t *testing.T) {
	client := newAPIClient(t)
	resp, body := client.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	if requireString(t, decodeJSONMap(t, body)["status"], "status") != "ok" {
		t.Fatalf("health not ok: %s", body)
	}

	resp, body = client.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "sentinel_frames_read_total") {
		t.Fatalf("metrics missing sentinel_frames_read_total")
	}
}
