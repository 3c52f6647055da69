package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"solalert/internal/config"
	"solalert/internal/metrics"
)

// metricsServer exposes the Prometheus /metrics endpoint on its own
// http.Server, separate from the read API's mux since operators typically
// scrape it from a different network surface than the public read API.
type metricsServer struct {
	server *http.Server
	logger *slog.Logger
}

func newMetricsServer(cfg config.MetricsConfig, logger *slog.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	return &metricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
		logger: logger.With("component", "metrics-server"),
	}
}

// Start blocks serving until ctx is cancelled.
func (m *metricsServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.server.Shutdown(shutdownCtx)
	}()

	m.logger.Info("metrics server starting", "addr", m.server.Addr)
	if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
