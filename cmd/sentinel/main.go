package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/clearcity/ai-sentinel/internal/capture"
	"github.com/clearcity/ai-sentinel/internal/capture/camera"
	"github.com/clearcity/ai-sentinel/internal/capture/pattern"
	"github.com/clearcity/ai-sentinel/internal/config"
	"github.com/clearcity/ai-sentinel/internal/detector"
	"github.com/clearcity/ai-sentinel/internal/detector/yolo"
	"github.com/clearcity/ai-sentinel/internal/framebuf"
	"github.com/clearcity/ai-sentinel/internal/logger"
	"github.com/clearcity/ai-sentinel/internal/metrics"
	"github.com/clearcity/ai-sentinel/internal/sentinel"
	"github.com/clearcity/ai-sentinel/internal/validation"
	"github.com/clearcity/ai-sentinel/internal/webmonitor"
	"github.com/clearcity/ai-sentinel/internal/webrtc"
)

var (
	// Command-line flags
	configPath   = flag.String("config", "", "TOML config file")
	envFile      = flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	cameraSource = flag.String("camera", "", "Camera device index, stream URL, or \"pattern\"")
	modelPath    = flag.String("model", "", "YOLO ONNX model path")
	inferenceURL = flag.String("inference-url", "", "External inference service base URL")
	host         = flag.String("host", "", "HTTP listen host")
	port         = flag.Int("port", 0, "HTTP listen port")
	threshold    = flag.Float64("threshold", 0, "Confidence threshold (0-1)")
	frames       = flag.Int("frames", 0, "Consecutive frames required to confirm")
	startActive  = flag.Bool("start-active", false, "Start with detection enabled")
	demoSeed     = flag.Bool("demo-seed", false, "Seed stats with random demo values")
	logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
	logFile      = flag.String("log-file", "", "Also write logs to this file (rotated)")
)

// App wires the detection loop to the HTTP surface.
type App struct {
	cfg        config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	metrics    *metrics.Metrics
	sentinel   *sentinel.Sentinel
	monitor    *webmonitor.Server
	webrtc     *webrtc.Server
	httpServer *http.Server
	runErr     chan error
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, logger.FileWriter(cfg.Log.File))
	}
	logger.Init(level, out, cfg.Log.Color)
	defer logger.Sync()

	logger.Info("Main", "AI Sentinel starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create sentinel: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start sentinel: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info("Main", "Shutting down...")
	case err := <-app.runErr:
		logger.Error("Main", "Fatal: %v", err)
		exitCode = 1
	}

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
	logger.Sync()
	os.Exit(exitCode)
}

// loadConfig layers defaults, the TOML file, the environment and flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()

	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return cfg, err
		}
	}
	if err := config.LoadDotEnv(*envFile); err != nil {
		return cfg, err
	}
	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.Camera.Source = *cameraSource
		case "model":
			cfg.Detection.ModelPath = *modelPath
		case "inference-url":
			cfg.Detection.InferenceURL = *inferenceURL
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "threshold":
			cfg.Detection.ConfidenceThreshold = *threshold
		case "frames":
			cfg.Detection.ValidationFrames = *frames
		case "start-active":
			cfg.Detection.StartActive = *startActive
		case "demo-seed":
			cfg.Detection.DemoSeed = *demoSeed
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		case "log-file":
			cfg.Log.File = *logFile
		}
	})

	return cfg, cfg.Validate()
}

// NewApp opens the source and detector and builds the servers.
func NewApp(cfg config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()

	src, err := openSource(cfg.Camera)
	if err != nil {
		cancel()
		return nil, err
	}

	det, err := openDetector(ctx, cfg.Detection)
	if err != nil {
		src.Close()
		cancel()
		return nil, err
	}

	buf := framebuf.New()
	sen := sentinel.New(sentinel.Config{
		CameraID:            cfg.Camera.ID,
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		RequiredFrames:      cfg.Detection.ValidationFrames,
		ConfirmLabel:        cfg.Detection.ConfirmLabel,
		DemoMode:            cfg.Server.DemoMode,
		DemoSeed:            cfg.Detection.DemoSeed,
		StartActive:         cfg.Detection.StartActive,
		RetryDelay:          cfg.Detection.RetryDelay(),
		JPEGQuality:         cfg.Camera.JPEGQuality,
	}, src, det, buf, m)

	rtc := webrtc.NewServer(webrtc.Config{
		STUNServers: cfg.Server.STUNServers,
		MaxClients:  cfg.Server.MaxRTCClients,
	}, m)

	monCfg := webmonitor.DefaultConfig()
	monCfg.StatusInterval = cfg.Server.StatusInterval()
	monCfg.RateLimit = cfg.Server.RateLimit
	monCfg.RateBurst = cfg.Server.RateBurst
	monCfg.RequiredFrames = cfg.Detection.ValidationFrames
	monitor := webmonitor.NewServer(monCfg, sen, buf, m, rtc)

	monitor.Broadcaster().AddSink(func(e *webmonitor.SerializedEvent) {
		rtc.Broadcast(e.JSONData)
	})
	sen.OnConfirm(func(c validation.Confirmation) {
		monitor.Broadcaster().PublishConfirmation(c)
	})

	app := &App{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		metrics:  m,
		sentinel: sen,
		monitor:  monitor,
		webrtc:   rtc,
		runErr:   make(chan error, 2),
	}
	app.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           monitor.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when the app context is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	return app, nil
}

func openSource(cfg config.CameraConfig) (capture.Source, error) {
	if cfg.IsPattern() {
		logger.Info("Main", "Using synthetic pattern source (%dx%d @ %d fps)", cfg.Width, cfg.Height, cfg.FPS)
		return pattern.New(cfg.Width, cfg.Height, cfg.FPS), nil
	}
	var device interface{} = cfg.Source
	if n, ok := cfg.CameraDevice(); ok {
		device = n
	}
	cam, err := camera.Open(device, cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("could not open camera: %w", err)
	}
	return cam, nil
}

func openDetector(ctx context.Context, cfg config.DetectionConfig) (detector.Detector, error) {
	switch {
	case cfg.ModelPath != "":
		yc := yolo.DefaultConfig()
		yc.ModelPath = cfg.ModelPath
		yc.NMSThreshold = float32(cfg.NMSThreshold)
		yc.InputSize = cfg.InputSize
		yc.Classes = cfg.Labels
		d, err := yolo.New(yc)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		return d, nil

	case cfg.InferenceURL != "":
		r := detector.NewRemote(cfg.InferenceURL, 5*time.Second)
		hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := r.CheckHealth(hctx); err != nil {
			logger.Warn("Main", "Inference service %s not healthy yet: %v", cfg.InferenceURL, err)
		}
		logger.Info("Main", "Using remote inference at %s", cfg.InferenceURL)
		return r, nil

	default:
		logger.Warn("Main", "No model configured, detection will never qualify")
		return detector.None{}, nil
	}
}

// Start launches the detection loop and the HTTP server.
func (a *App) Start() error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.sentinel.Run(a.ctx); err != nil {
			a.runErr <- err
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info("Main", "HTTP server listening on http://%s", a.cfg.Addr())
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.runErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	return nil
}

// Shutdown stops the loop, closes clients and drains HTTP.
func (a *App) Shutdown() error {
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpErr := a.httpServer.Shutdown(ctx)

	a.wg.Wait()

	a.monitor.Close()
	a.webrtc.Close()
	return errors.Join(httpErr, a.sentinel.Close())
}
