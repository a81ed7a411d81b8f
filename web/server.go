// Package web exposes the control surface of the live stacker: a JSON
// API for camera and stacking control, the preview endpoint, and a
// websocket feed of stacking notifications.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"astro-live-stacker/camera"
	"astro-live-stacker/config"
	"astro-live-stacker/pipeline"
)

// Server represents the main web server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server

	// Components
	hub *NotificationHub

	// Handlers
	handlers *Handlers
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	server := &Server{
		config: cfg,
		logger: logger,
	}

	// Create handlers
	server.handlers = NewHandlers(cfg, logger)

	return server
}

// SetRegistry sets the driver registry
func (s *Server) SetRegistry(registry *camera.Registry) {
	s.handlers.SetRegistry(registry)
}

// SetInstance sets the camera instance
func (s *Server) SetInstance(instance *camera.Instance) {
	s.handlers.SetInstance(instance)
}

// SetPipeline wires the pipeline surfaces exposed over HTTP
func (s *Server) SetPipeline(preview *pipeline.PreviewSink, control *pipeline.Q, depths func() map[string]int) {
	s.handlers.SetPipeline(preview, control, depths)
}

// SetNotificationHub sets the websocket notification hub
func (s *Server) SetNotificationHub(hub *NotificationHub) {
	s.hub = hub
	s.handlers.SetNotificationHub(hub)
}

// Start starts the web server
func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.Int("port", s.config.Server.WebPort))

	// Set up routes
	mux := http.NewServeMux()

	// Main page
	mux.HandleFunc("/", s.handlers.HandleHome)

	// API endpoints
	mux.HandleFunc("/api/status", s.handlers.HandleAPIStatus)
	mux.HandleFunc("/api/config", s.handlers.HandleAPIConfig)
	mux.HandleFunc("/api/drivers", s.handlers.HandleAPIDrivers)
	mux.HandleFunc("/api/cameras", s.handlers.HandleAPICameras)
	mux.HandleFunc("/api/camera/formats", s.handlers.HandleAPIFormats)
	mux.HandleFunc("/api/camera/options", s.handlers.HandleAPIOptions)
	mux.HandleFunc("/api/preview/current", s.handlers.HandleAPIPreview)
	mux.HandleFunc("/api/stacker/start", s.handlers.HandleAPIStackerStart)
	mux.HandleFunc("/api/stacker/control", s.handlers.HandleAPIStackerControl)
	mux.HandleFunc("/api/stacker/stretch", s.handlers.HandleAPIStackerStretch)
	mux.HandleFunc("/api/stacker/status", s.handlers.HandleAPIStackerStatus)

	// Websocket notifications
	if s.hub != nil {
		mux.HandleFunc("/ws/notifications", s.hub.HandleWS)
	}

	// Health check
	mux.HandleFunc("/health", s.handlers.HandleHealth)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.BindIP, s.config.Server.WebPort),
		Handler:      s.addMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", zap.Error(err))
		}
	}()

	s.logger.Info("Web server started", zap.String("address", s.httpServer.Addr))

	return nil
}

// addMiddleware adds middleware to the HTTP handler
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Logging middleware
		start := time.Now()

		// Add logging wrapper
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: 200}

		// Call next handler
		handler.ServeHTTP(lw, r)

		// Log request
		duration := time.Since(start)
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", duration),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Stop stops the web server
func (s *Server) Stop() error {
	s.logger.Info("Stopping web server")

	if s.httpServer == nil {
		return nil
	}

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Web server stopped")
	return nil
}
