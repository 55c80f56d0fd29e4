package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 0.95, c.Detection.ConfidenceThreshold)
	assert.Equal(t, 3, c.Detection.ValidationFrames)
	assert.Equal(t, "0", c.Camera.Source)
	assert.Equal(t, 640, c.Camera.Width)
	assert.Equal(t, 480, c.Camera.Height)
	assert.Equal(t, "demo-camera-001", c.Camera.ID)
	assert.Equal(t, "0.0.0.0:5000", c.Addr())
	assert.False(t, c.Detection.StartActive)
	assert.Equal(t, 100*time.Millisecond, c.Detection.RetryDelay())
	assert.Equal(t, 2*time.Second, c.Server.StatusInterval())
	require.NoError(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.toml")
	doc := `
[detection]
confidence_threshold = 0.8
validation_frames = 5
retry_delay_ms = 250

[camera]
source = "rtsp://cam.local/stream"
id = "dock-3"

[server]
port = 8080
status_interval_ms = 5000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c := Default()
	require.NoError(t, c.LoadFile(path))
	assert.Equal(t, 0.8, c.Detection.ConfidenceThreshold)
	assert.Equal(t, 5, c.Detection.ValidationFrames)
	assert.Equal(t, "rtsp://cam.local/stream", c.Camera.Source)
	assert.Equal(t, "dock-3", c.Camera.ID)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 250*time.Millisecond, c.Detection.RetryDelay())
	assert.Equal(t, 5*time.Second, c.Server.StatusInterval())
	require.NoError(t, c.Validate())
	// untouched keys keep defaults
	assert.Equal(t, 640, c.Camera.Width)
}

func TestLoadFileErrors(t *testing.T) {
	c := Default()
	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "missing.toml")))

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[detection\n"), 0o644))
	assert.Error(t, c.LoadFile(path))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CONFIDENCE_THRESHOLD": "0.9",
		"VALIDATION_FRAMES":    "4",
		"CAMERA_SOURCE":        "1",
		"CAMERA_WIDTH":         "1280",
		"CAMERA_HEIGHT":        "720",
		"SERVER_PORT":          "9000",
		"LOG_LEVEL":            "debug",
		"START_ACTIVE":         "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := Default()
	require.NoError(t, c.applyEnv(lookup))
	assert.Equal(t, 0.9, c.Detection.ConfidenceThreshold)
	assert.Equal(t, 4, c.Detection.ValidationFrames)
	assert.Equal(t, 1280, c.Camera.Width)
	assert.Equal(t, 720, c.Camera.Height)
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Detection.StartActive)

	dev, ok := c.Camera.CameraDevice()
	assert.True(t, ok)
	assert.Equal(t, 1, dev)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	lookup := func(k string) (string, bool) {
		switch k {
		case "VALIDATION_FRAMES":
			return "three", true
		case "CONFIDENCE_THRESHOLD":
			return "high", true
		}
		return "", false
	}
	c := Default()
	err := c.applyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATION_FRAMES")
	assert.Contains(t, err.Error(), "CONFIDENCE_THRESHOLD")
	assert.Equal(t, 3, c.Detection.ValidationFrames)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CAMERA_ID=from-dotenv\n"), 0o644))
	t.Setenv("CAMERA_ID", "")
	os.Unsetenv("CAMERA_ID")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "nope.env")))
	c := Default()
	require.NoError(t, c.LoadEnv())
	assert.Equal(t, "from-dotenv", c.Camera.ID)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Detection.ConfidenceThreshold = 1.2 }},
		{"negative threshold", func(c *Config) { c.Detection.ConfidenceThreshold = -0.1 }},
		{"zero frames", func(c *Config) { c.Detection.ValidationFrames = 0 }},
		{"empty source", func(c *Config) { c.Camera.Source = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"zero retry delay", func(c *Config) { c.Detection.RetryDelayMs = 0 }},
		{"negative status interval", func(c *Config) { c.Server.StatusIntervalMs = -1 }},
		{"both backends", func(c *Config) {
			c.Detection.ModelPath = "yolo.onnx"
			c.Detection.InferenceURL = "http://localhost:8000"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCameraSourceKinds(t *testing.T) {
	c := CameraConfig{Source: "rtsp://x"}
	_, ok := c.CameraDevice()
	assert.False(t, ok)
	assert.False(t, c.IsPattern())

	c.Source = "Pattern"
	assert.True(t, c.IsPattern())
}
