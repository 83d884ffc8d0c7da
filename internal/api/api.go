// Package api is the command surface the popup and options UIs used to
// provide: trigger a check, pause and resume, reload the schedule, query
// snapshots and the weekly digest.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/digest"
	"github.com/triagewatch/triagewatch/internal/scheduler"
	"github.com/triagewatch/triagewatch/internal/statestore"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title triagewatch API
// @version 1.0
// @description REST API for triggering defect checks, managing the schedule, and querying snapshots and the weekly digest.

// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter your API key (with or without "Bearer " prefix)

// APIServer provides the HTTP command and query surface
type APIServer struct {
	config       *config.APIConfig
	orchestrator *scheduler.Orchestrator
	digests      *digest.Generator
	stateStore   statestore.StateStore
	router       *http.ServeMux
	server       *http.Server
	logger       *slog.Logger
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.APIConfig, orchestrator *scheduler.Orchestrator, digests *digest.Generator, store statestore.StateStore, logger *slog.Logger) *APIServer {
	api := &APIServer{
		config:       cfg,
		orchestrator: orchestrator,
		digests:      digests,
		stateStore:   store,
		router:       http.NewServeMux(),
		logger:       logger,
	}

	api.setupRoutes()

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return api
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Query endpoints (GET)
	s.router.HandleFunc("/api/v1/status", s.corsMiddleware(s.authMiddleware(s.handleStatus, false)))
	s.router.HandleFunc("/api/v1/digest", s.corsMiddleware(s.authMiddleware(s.handleGetDigest, false)))
	s.router.HandleFunc("/api/v1/snapshots", s.corsMiddleware(s.authMiddleware(s.handleSnapshots, false)))
	s.router.HandleFunc("/api/v1/overdue", s.corsMiddleware(s.authMiddleware(s.handleOverdue, false)))

	// Action endpoints (POST)
	s.router.HandleFunc("/api/v1/check", s.corsMiddleware(s.authMiddleware(s.handleCheck, true)))
	s.router.HandleFunc("/api/v1/schedule/reload", s.corsMiddleware(s.authMiddleware(s.handleReloadSchedule, true)))
	s.router.HandleFunc("/api/v1/pause", s.corsMiddleware(s.authMiddleware(s.handlePause, true)))
	s.router.HandleFunc("/api/v1/resume", s.corsMiddleware(s.authMiddleware(s.handleResume, true)))
	s.router.HandleFunc("/api/v1/digest/regenerate", s.corsMiddleware(s.authMiddleware(s.handleRegenerateDigest, true)))
	s.router.HandleFunc("/api/v1/sweep", s.corsMiddleware(s.authMiddleware(s.handleSweep, true)))

	// Swagger documentation
	s.router.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Redirect root to swagger
	s.router.HandleFunc("/", s.handleRootRedirect)
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func (s *APIServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// authMiddleware provides optional API key authentication.
// requireWrite indicates a write operation that read-only mode blocks.
func (s *APIServer) authMiddleware(next http.HandlerFunc, requireWrite bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requireWrite && s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		if s.config.APIKey != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				s.respondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			token := authHeader
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if token != s.config.APIKey {
				s.respondError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		}

		next(w, r)
	}
}

// Start starts the API server and blocks until the context is cancelled
func (s *APIServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	s.logger.Info("starting API server",
		"port", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error",
				"error", err.Error())
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON sends a JSON response
func (s *APIServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response",
			"error", err.Error())
	}
}

// respondError sends an error response
func (s *APIServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseQueryParamInt extracts an integer query parameter
func parseQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
		return intValue
	}
	return defaultValue
}

// handleRootRedirect redirects / to /swagger/
func (s *APIServer) handleRootRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
}
