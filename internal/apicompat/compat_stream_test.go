package apicompat

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestCompatVideoFeed(t *testing.T) {
	client := newAPIClient(t)

	data, header, err := readStreamUntil(client.baseURL+"/video_feed", []byte("\xff\xd9\r\n"), 10*time.Second)
	if err != nil {
		t.Fatalf("read video feed: %v", err)
	}
	if ct := header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("video_feed content-type = %q", ct)
	}
	part := []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n\xff\xd8")
	if !bytes.Contains(data, part) {
		t.Fatalf("video_feed missing JPEG part header")
	}
}

func TestCompatStatusStream(t *testing.T) {
	client := newAPIClient(t)

	data, header, err := readStreamUntil(client.baseURL+"/api/status/stream", []byte("\n\n"), 5*time.Second)
	if err != nil {
		t.Fatalf("read status stream: %v", err)
	}
	if !strings.HasPrefix(header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("status stream content-type = %q", header.Get("Content-Type"))
	}

	event := string(data[:bytes.Index(data, []byte("\n\n"))])
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := decodeJSONMap(t, []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))))
			if requireString(t, payload["type"], "type") != "status" {
				t.Fatalf("first event type = %v", payload["type"])
			}
			assertStatusPayload(t, payload)
			return
		}
	}
	t.Fatalf("no data line in first event: %q", event)
}
