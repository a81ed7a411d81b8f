package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"astro-live-stacker/camera"
	"astro-live-stacker/config"
	"astro-live-stacker/pipeline"
	"astro-live-stacker/web"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Astro Live Stacker"
	AppVersion        = "1.0.0"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger

	// Camera
	registry *camera.Registry
	instance *camera.Instance

	// Pipeline
	input     *pipeline.Q
	converter *pipeline.Converter
	preview   *pipeline.PreviewSink
	stacker   *pipeline.Stacker
	saver     *pipeline.DebugSaver
	hub       *web.NotificationHub

	webServer *web.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("A live stacking service for astronomical cameras")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// Create logger
	logger, err := createLogger(*logLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Astro Live Stacker",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("driver", cfg.Driver.Name),
		zap.String("format", cfg.Camera.Format),
		zap.Int("web_port", cfg.Server.WebPort),
		zap.String("data_dir", cfg.Storage.DataDir))

	// Create application
	app := NewApplication(cfg, logger)

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(ctx); err != nil {
		logger.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal
	select {
	case sig := <-signalCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	ctx, cancel := context.WithCancel(context.Background())

	return &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts all application components
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("Starting application components")

	// Initialize the camera driver
	if err := a.initializeDriver(); err != nil {
		return fmt.Errorf("failed to initialize driver: %w", err)
	}

	// Build the frame distribution pipeline
	a.initializePipeline()

	// Initialize web server
	if err := a.initializeWebServer(); err != nil {
		return fmt.Errorf("failed to initialize web server: %w", err)
	}

	// Start the stream feeding the pipeline
	if err := a.startStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	a.logger.Info("Application started successfully",
		zap.String("web_url", fmt.Sprintf("http://%s:%d", a.config.Server.BindIP, a.config.Server.WebPort)))

	return nil
}

// initializeDriver builds the registry, resolves the configured driver
// and opens the camera
func (a *Application) initializeDriver() error {
	a.logger.Info("Initializing camera driver", zap.String("driver", a.config.Driver.Name))

	a.registry = camera.NewRegistry(a.logger)
	a.registry.RegisterDriver("sim", camera.NewSimDriver)
	a.registry.RegisterDriver("gstreamer",
		camera.NewGstDriverFactory(a.config.Driver.Device, a.logger))

	// Anything that is not built in is loaded as a plugin
	driverID := -1
	for id, name := range a.registry.Drivers() {
		if name == a.config.Driver.Name {
			driverID = id
			break
		}
	}
	if driverID < 0 {
		if err := a.registry.LoadDriver(a.config.Driver.Name,
			a.config.Driver.SearchPath, a.config.Driver.ConfigString); err != nil {
			return err
		}
		for id, name := range a.registry.Drivers() {
			if name == a.config.Driver.Name {
				driverID = id
				break
			}
		}
	}

	driver, err := a.registry.GetDriver(driverID, a.config.Driver.ExternalOption)
	if err != nil {
		return err
	}

	a.instance = camera.NewInstance(driver, a.logger)
	if err := a.instance.OpenCamera(a.config.Camera.Index); err != nil {
		return err
	}

	a.logger.Info("Camera driver initialized")
	return nil
}

// initializePipeline wires the queues and starts every stage goroutine
func (a *Application) initializePipeline() {
	a.logger.Info("Initializing pipeline")

	a.input = pipeline.NewQueue()
	liveOut := pipeline.NewQueue()
	stackOut := pipeline.NewQueue()
	debugOut := pipeline.NewQueue()
	notify := pipeline.NewQueue()

	a.converter = pipeline.NewConverter(pipeline.ConverterQueues{
		In:       a.input,
		LiveOut:  liveOut,
		StackOut: stackOut,
		DebugOut: debugOut,
		Notify:   notify,
	}, a.logger)
	a.preview = pipeline.NewPreviewSink(liveOut, a.logger)
	a.stacker = pipeline.NewStacker(stackOut, notify, nil, a.logger)
	a.saver = pipeline.NewDebugSaver(debugOut, a.logger)
	a.hub = web.NewNotificationHub(notify, a.logger)

	for _, run := range []func(){
		a.converter.Run, a.preview.Run, a.stacker.Run, a.saver.Run, a.hub.Run,
	} {
		run := run
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			run()
		}()
	}

	// Periodic queue depth report
	interval := time.Duration(a.config.Logging.QueueStatsInterval) * time.Second
	if interval > 0 {
		a.wg.Add(1)
		go a.logQueueDepths(interval)
	}

	a.logger.Info("Pipeline initialized")
}

// logQueueDepths reports queue depths until the application stops.
// Depth is the only backpressure signal the pipeline has.
func (a *Application) logQueueDepths(interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			depths := a.converter.QueueDepths()
			fields := make([]zap.Field, 0, len(depths))
			for name, depth := range depths {
				fields = append(fields, zap.Int(name, depth))
			}
			a.logger.Info("Queue depths", fields...)
		case <-a.ctx.Done():
			return
		}
	}
}

// initializeWebServer creates and starts the control surface
func (a *Application) initializeWebServer() error {
	a.logger.Info("Initializing web server")

	a.webServer = web.NewServer(a.config, a.logger)
	a.webServer.SetRegistry(a.registry)
	a.webServer.SetInstance(a.instance)
	a.webServer.SetPipeline(a.preview, a.input, a.converter.QueueDepths)
	a.webServer.SetNotificationHub(a.hub)

	if err := a.webServer.Start(); err != nil {
		return err
	}

	a.logger.Info("Web server initialized")
	return nil
}

// startStream begins frame delivery into the pipeline input queue
func (a *Application) startStream() error {
	format, err := a.config.Camera.StreamFormat()
	if err != nil {
		return err
	}

	return a.instance.StartStream(format, func(f camera.Frame) {
		a.input.Push(pipeline.NewRawFrame(f))
	})
}

// Stop gracefully stops all application components
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("Stopping application")

	// Cancel context
	a.cancel()

	// Stop web server
	if a.webServer != nil {
		if err := a.webServer.Stop(); err != nil {
			a.logger.Error("Error stopping web server", zap.Error(err))
		}
	}

	// Stop frame delivery before draining the pipeline
	if a.instance != nil {
		if err := a.instance.StopStream(); err != nil {
			a.logger.Error("Error stopping stream", zap.Error(err))
		}
	}

	// The shutdown sentinel propagates stage to stage through the queues
	if a.input != nil {
		a.input.Push(pipeline.Shutdown{})
	}

	// Wait for goroutines to finish
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All components stopped gracefully")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	// Close the camera last
	if a.instance != nil {
		if err := a.instance.CloseCamera(); err != nil {
			a.logger.Error("Error closing camera", zap.Error(err))
		}
		if err := a.instance.Driver().Close(); err != nil {
			a.logger.Error("Error closing driver", zap.Error(err))
		}
	}

	return nil
}

// createLogger creates a structured logger
func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	// Prepare log directory and file path
	const logDir = "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("astro-live-stacker-%s.log", ts))

	// Clean up old logs (keep last 20 files)
	files, _ := filepath.Glob(filepath.Join(logDir, "astro-live-stacker-*.log"))
	if len(files) > 20 {
		sort.Strings(files) // lexicographic order matches timestamp
		for _, f := range files[:len(files)-20] {
			_ = os.Remove(f)
		}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return config.Build()
}
