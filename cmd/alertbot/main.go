// Solana token alert bot — ingests buy/social/momentum/trending/hotlist
// chat feeds, correlates mentions per contract, scores them into tiers,
// and durably logs and fans out the resulting alerts.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine          — orchestrator: wires ingest → parser pool → correlator → log/mirror/fanout
//	internal/ingest          — one session per configured chat source (WS or poll)
//	internal/parser          — converts a raw chat message into a ParsedEvent
//	internal/state           — per-contract rolling state (mentions, liquidity, market cap)
//	internal/correlator      — the linearizer: tier cascade, dedup, dynamic thresholding
//	internal/eventlog         — atomic append-only durable log, with backup rotation and a remote mirror
//	internal/fanout           — subscriber registry polling and webhook delivery
//	internal/api              — read-only HTTP API over the durable log
//	internal/metrics          — Prometheus counters for the pipeline's drop/retry/suppress paths
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"solalert/internal/config"
	"solalert/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ALERT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(2)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — fan-out deliveries are logged, not sent")
	}

	logger.Info("solana alert bot started",
		"sources", len(cfg.Sources),
		"api_enabled", cfg.API.Enabled,
		"metrics_enabled", cfg.Metrics.Enabled,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		eng.Stop()
	case err := <-eng.Fatal():
		logger.Error("durable write failed beyond recovery, exiting", "error", err)
		eng.Stop()
		os.Exit(1)
	case err := <-eng.AuthFatal():
		logger.Error("ingest authentication failed, unrecoverable, exiting", "error", err)
		eng.Stop()
		os.Exit(3)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
