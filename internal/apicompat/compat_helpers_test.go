package apicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:5000"
	defaultRequestTimeout = 2 * time.Second
)

type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	baseURL := os.Getenv("SENTINEL_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("sentinel not reachable at %s (set SENTINEL_BASE_URL to run)", baseURL)
	}

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *apiClient) do(t *testing.T, method, path string, body io.Reader, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (c *apiClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil, nil)
}

func (c *apiClient) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path, bytes.NewReader(nil), nil)
}

// readStreamUntil reads from a streaming endpoint until needle appears.
func readStreamUntil(url string, needle []byte, timeout time.Duration) ([]byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if bytes.Contains(buf, needle) {
				return buf, resp.Header, nil
			}
		}
		if readErr != nil {
			return buf, resp.Header, fmt.Errorf("stream ended before %q: %w", needle, readErr)
		}
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireBool(t, payload["active"], "active")
	requireString(t, payload["camera_id"], "camera_id")
	threshold := requireNumber(t, payload["confidence_threshold"], "confidence_threshold")
	if threshold < 0 || threshold >= 1 {
		t.Fatalf("confidence_threshold out of range: %v", threshold)
	}
	requireBool(t, payload["demo_mode"], "demo_mode")

	stats := requireMap(t, payload["stats"], "stats")
	requireNumber(t, stats["total_detections"], "stats.total_detections")
	requireNumber(t, stats["reports_created"], "stats.reports_created")
	requireNumber(t, stats["verifications_passed"], "stats.verifications_passed")
	requireNumber(t, stats["verifications_failed"], "stats.verifications_failed")
	requireBool(t, stats["is_detecting"], "stats.is_detecting")
	requireNumber(t, stats["validation_count"], "stats.validation_count")
}
