package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the full runtime configuration of the sentinel process.
type Config struct {
	Detection DetectionConfig `toml:"detection"`
	Camera    CameraConfig    `toml:"camera"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

// DetectionConfig controls the detector and the confirmation state machine.
type DetectionConfig struct {
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	ValidationFrames    int      `toml:"validation_frames"`
	ModelPath           string   `toml:"model_path"`
	InferenceURL        string   `toml:"inference_url"`
	InputSize           int      `toml:"input_size"`
	NMSThreshold        float64  `toml:"nms_threshold"`
	Labels              []string `toml:"labels"`
	ConfirmLabel        string   `toml:"confirm_label"`
	StartActive         bool     `toml:"start_active"`
	DemoSeed            bool     `toml:"demo_seed"`
	RetryDelayMs        int      `toml:"retry_delay_ms"`
}

// CameraConfig selects and sizes the frame source.
type CameraConfig struct {
	Source      string `toml:"source"`
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	ID          string `toml:"id"`
	FPS         int    `toml:"fps"`
	JPEGQuality int    `toml:"jpeg_quality"`
}

// ServerConfig defines the HTTP surface.
type ServerConfig struct {
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	StatusIntervalMs int      `toml:"status_interval_ms"`
	RateLimit        float64  `toml:"rate_limit"`
	RateBurst        int      `toml:"rate_burst"`
	MaxRTCClients    int      `toml:"max_rtc_clients"`
	STUNServers      []string `toml:"stun_servers"`
	DemoMode         bool     `toml:"demo_mode"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `toml:"level"`
	Color bool   `toml:"color"`
	File  string `toml:"file"`
}

// PatternSource selects the synthetic colour-bar source instead of a camera.
const PatternSource = "pattern"

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Detection: DetectionConfig{
			ConfidenceThreshold: 0.95,
			ValidationFrames:    3,
			InputSize:           640,
			NMSThreshold:        0.45,
			ConfirmLabel:        "GARBAGE",
			RetryDelayMs:        100,
		},
		Camera: CameraConfig{
			Source:      "0",
			Width:       640,
			Height:      480,
			ID:          "demo-camera-001",
			FPS:         15,
			JPEGQuality: 80,
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5000,
			StatusIntervalMs: 2000,
			RateLimit:        5,
			RateBurst:        10,
			MaxRTCClients:    10,
			STUNServers:      []string{"stun:stun.l.google.com:19302"},
			DemoMode:         true,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Addr returns host:port for the HTTP listener.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// LoadFile overlays the TOML document at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadEnv overlays recognised environment variables onto c.
func (c *Config) LoadEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	float("CONFIDENCE_THRESHOLD", &c.Detection.ConfidenceThreshold)
	integer("VALIDATION_FRAMES", &c.Detection.ValidationFrames)
	str("MODEL_PATH", &c.Detection.ModelPath)
	str("INFERENCE_URL", &c.Detection.InferenceURL)
	boolean("START_ACTIVE", &c.Detection.StartActive)
	boolean("DEMO_SEED", &c.Detection.DemoSeed)

	str("CAMERA_SOURCE", &c.Camera.Source)
	integer("CAMERA_WIDTH", &c.Camera.Width)
	integer("CAMERA_HEIGHT", &c.Camera.Height)
	str("CAMERA_ID", &c.Camera.ID)

	str("SERVER_HOST", &c.Server.Host)
	integer("SERVER_PORT", &c.Server.Port)
	boolean("DEMO_MODE", &c.Server.DemoMode)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	t := c.Detection.ConfidenceThreshold
	if math.IsNaN(t) || t < 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be in [0,1), got %v", t))
	}
	if c.Detection.ValidationFrames < 1 {
		errs = append(errs, fmt.Errorf("validation_frames must be >= 1, got %d", c.Detection.ValidationFrames))
	}
	if c.Detection.ModelPath != "" && c.Detection.InferenceURL != "" {
		errs = append(errs, errors.New("model_path and inference_url are mutually exclusive"))
	}
	if c.Camera.Source == "" {
		errs = append(errs, errors.New("camera source is empty"))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be in [1,100], got %d", c.Camera.JPEGQuality))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port out of range: %d", c.Server.Port))
	}
	if c.Detection.RetryDelayMs <= 0 {
		errs = append(errs, fmt.Errorf("retry_delay_ms must be positive, got %d", c.Detection.RetryDelayMs))
	}
	if c.Server.StatusIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("status_interval_ms must be positive, got %d", c.Server.StatusIntervalMs))
	}

	return errors.Join(errs...)
}

// CameraDevice reports whether the configured source names a local device
// index ("0", "1", ...) and returns it.
func (c CameraConfig) CameraDevice() (int, bool) {
	n, err := strconv.Atoi(c.Source)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// RetryDelay is the pause after a failed frame read.
func (d DetectionConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMs) * time.Millisecond
}

// StatusInterval is the period of the status broadcast.
func (s ServerConfig) StatusInterval() time.Duration {
	return time.Duration(s.StatusIntervalMs) * time.Millisecond
}

// IsPattern reports whether the synthetic source was requested.
func (c CameraConfig) IsPattern() bool {
	return strings.EqualFold(c.Source, PatternSource)
}
