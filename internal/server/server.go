// Package server exposes the crop session over HTTP and a WebSocket pointer
// stream.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/menta2k/squarecrop/pkg/editor"
	"github.com/menta2k/squarecrop/pkg/export"
	"github.com/menta2k/squarecrop/pkg/intake"
	"github.com/menta2k/squarecrop/pkg/processing"
	"github.com/menta2k/squarecrop/pkg/registry"
)

// Options holds the server settings.
type Options struct {
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	// ExportDir receives POST /api/export batches. Empty means the fallback directory.
	ExportDir   string
	FallbackDir string
	Overwrite   bool
	ExportDelay time.Duration
	DefaultName string
}

// DefaultOptions returns a 64MB upload limit and a 5s shutdown window.
func DefaultOptions() Options {
	return Options{
		MaxUploadBytes:  64 << 20,
		ShutdownTimeout: 5 * time.Second,
		FallbackDir:     "./output",
		ExportDelay:     export.DefaultDelay,
		DefaultName:     registry.DefaultName,
	}
}

// Server represents the crop session's REST/WebSocket server.
type Server struct {
	view      *editor.View
	registry  *registry.Registry
	intake    *intake.Intake
	processor *processing.Processor
	options   Options
	logger    *slog.Logger

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	hub      *hub
}

// New creates a server over view's registry.
func New(view *editor.View, in *intake.Intake, proc *processing.Processor, options Options, logger *slog.Logger) *Server {
	def := DefaultOptions()
	if options.MaxUploadBytes <= 0 {
		options.MaxUploadBytes = def.MaxUploadBytes
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = def.ShutdownTimeout
	}
	if options.FallbackDir == "" {
		options.FallbackDir = def.FallbackDir
	}
	if options.DefaultName == "" {
		options.DefaultName = def.DefaultName
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		view:      view,
		registry:  view.Registry(),
		intake:    in,
		processor: proc,
		options:   options,
		logger:    logger,
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		hub: newHub(logger),
	}
	s.registry.Subscribe(func(ev registry.Event) {
		s.hub.broadcast(message{Type: messageEvent, Event: &ev})
	})
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Error("Unable to write healthcheck", "err", err)
		}
	})

	s.handle("GET /api/images", s.handleListImages)
	s.handle("POST /api/images", s.handleUpload)
	s.handle("DELETE /api/images", s.handleClear)
	s.handle("GET /api/images/{id}", s.handleGetImage)
	s.handle("PATCH /api/images/{id}", s.handleRename)
	s.handle("DELETE /api/images/{id}", s.handleRemove)
	s.handle("POST /api/images/{id}/activate", s.handleActivate)
	s.handle("PUT /api/images/{id}/crop-region", s.handleCropRegion)
	s.handle("POST /api/images/{id}/reset", s.handleReset)
	s.handle("POST /api/images/{id}/crop", s.handleCrop)
	s.handle("GET /api/images/{id}/download", s.handleDownload)
	s.handle("GET /api/images/{id}/source", s.handleSource)

	s.handle("GET /api/view", s.handleGetView)
	s.handle("PUT /api/view", s.handleSetContainer)
	s.handle("POST /api/view/pointer", s.handlePointer)
	s.handle("POST /api/view/suggest", s.handleSuggest)
	s.handle("GET /api/view/preview", s.handlePreview)

	s.handle("GET /api/export", s.handleExportZip)
	s.handle("POST /api/export", s.handleExportDir)

	// Not wrapped: the upgrade needs the raw ResponseWriter.
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// handle registers h with CORS headers and request logging.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.enableCORS(s.logRequests(h)))
}

// enableCORS adds CORS headers to the handler.
func (s *Server) enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("Crop interface available", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		s.hub.closeAll()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown failed", "err", err)
			return err
		}
		s.logger.Info("Server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}
