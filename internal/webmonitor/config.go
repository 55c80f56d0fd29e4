package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	StatusInterval  time.Duration
	StreamKeepAlive time.Duration
	SSEKeepAlive    time.Duration
	RateLimit       float64 // requests per second per client IP on control endpoints
	RateBurst       int
	AllowOrigin     string
	Title           string
	RequiredFrames  int
}

// DefaultConfig returns the configuration used by the sentinel binary.
func DefaultConfig() Config {
	return Config{
		StatusInterval:  2 * time.Second,
		StreamKeepAlive: 5 * time.Second,
		SSEKeepAlive:    30 * time.Second,
		RateLimit:       5,
		RateBurst:       10,
		AllowOrigin:     "*",
		Title:           "AI Sentinel - DEMO",
		RequiredFrames:  3,
	}
}
