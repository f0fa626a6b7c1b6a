// Package api provides the REST and streaming surface for Stagehand.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeloft/stagehand/pkg/approval"
	"github.com/codeloft/stagehand/pkg/hub"
	"github.com/codeloft/stagehand/pkg/logging"
	"github.com/codeloft/stagehand/pkg/preview"
	"github.com/codeloft/stagehand/pkg/storage"
	"github.com/codeloft/stagehand/pkg/taskstatus"
)

// Server is the Stagehand API server.
type Server struct {
	logger     *logging.Logger
	hub        *hub.Hub
	broker     *approval.Broker
	mode       approval.Mode
	supervisor *preview.Supervisor
	tracker    *taskstatus.Tracker
	store      *storage.Store
	httpServer *http.Server
	router     chi.Router
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:4466)
	Address string

	Logger     *logging.Logger
	Hub        *hub.Hub
	Broker     *approval.Broker
	Supervisor *preview.Supervisor
	Tracker    *taskstatus.Tracker
	Store      *storage.Store

	// ApprovalMode controls which permission kinds auto-approve.
	// Defaults to ModeAsk.
	ApprovalMode approval.Mode
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:4466"
	}

	s := &Server{
		logger:     cfg.Logger,
		hub:        cfg.Hub,
		broker:     cfg.Broker,
		mode:       cfg.ApprovalMode,
		supervisor: cfg.Supervisor,
		tracker:    cfg.Tracker,
		store:      cfg.Store,
	}

	router := chi.NewRouter()
	router.Use(s.corsMiddleware)
	router.Use(s.loggingMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/permissions", s.handleListPermissions)
		r.Post("/permissions", s.handleCreatePermission)
		r.Post("/permissions/{permissionID}/resolve", s.handleResolvePermission)

		r.Post("/requests/{requestID}/status", s.handleUpdateRequestStatus)

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/stream", s.handleStream)
			r.Get("/ws", s.handleWebSocket)

			r.Get("/preview", s.handlePreviewStatus)
			r.Post("/preview/start", s.handlePreviewStart)
			r.Post("/preview/stop", s.handlePreviewStop)

			r.Get("/requests", s.handleListRequests)
			r.Post("/requests", s.handleCreateRequest)
			r.Get("/tasks", s.handleTaskSummary)
		})
	})

	s.router = router
	s.httpServer = &http.Server{
		Addr:    cfg.Address,
		Handler: router,
		// WriteTimeout stays zero: SSE and WebSocket connections are
		// long-lived.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
