package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"solalert/internal/config"
)

// Server runs the read-only HTTP API.
//
// Grounded on internal/api/server.go's ServeMux + http.Server lifecycle
// (NewServer/Start/Stop), with the dashboard's WebSocket hub dropped —
// every response here is a plain request/response GET.
type Server struct {
	cfg      config.APIConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the read API. The cache reads and parses logCfg.Path
// directly (see cache.go) so a corrupt on-disk log is actually
// detectable; registry may be nil if fan-out is disabled.
func NewServer(cfg config.APIConfig, registry Registry, logCfg config.EventLogConfig, logger *slog.Logger) *Server {
	c := newCache(logCfg.Path, cfg.CacheTTL)
	handlers := NewHandlers(c, registry, logCfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/alerts/recent", withCORS(handlers.HandleRecent))
	mux.HandleFunc("/api/stats", withCORS(handlers.HandleStats))
	mux.HandleFunc("/api/alerts/tiers", withCORS(handlers.HandleTiers))
	mux.HandleFunc("/api/alerts/stats/daily", withCORS(handlers.HandleDailyStats))
	mux.HandleFunc("/api/health", withCORS(handlers.HandleHealth))
	mux.HandleFunc("/api/cache/refresh", withCORS(handlers.HandleCacheRefresh))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving the read API until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("read api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down within its own bounded budget.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping read api")
	return s.server.Shutdown(ctx)
}

// withCORS allows any origin to read these endpoints — per §4.7 this API
// has no auth and is meant to be polled by arbitrary front-ends.
func withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
