// Package engine is the central orchestrator of the alert pipeline.
//
// It wires together every subsystem:
//
//  1. ingest.Manager runs one session per configured chat source.
//  2. A parser pool drains every source channel, converts RawMessage to
//     ParsedEvent, and hands each one to the correlator.
//  3. correlator.Correlator is the single linearizer: it folds events into
//     per-contract state, evaluates the tier cascade, and emits alerts.
//  4. The emitter appends to the durable event log, pushes to the remote
//     mirror, and fans out to subscribers.
//  5. The read API serves the durable log file, re-read behind a short cache.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
//
// Grounded directly on engine.go's New()/Start()/Stop() lifecycle and
// sync.WaitGroup-tracked subsystem goroutines; manageMarkets's single
// consuming loop is the model for the correlator's linearizer, already
// implemented in internal/correlator.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"solalert/internal/api"
	"solalert/internal/config"
	"solalert/internal/correlator"
	"solalert/internal/enrich"
	"solalert/internal/eventlog"
	"solalert/internal/fanout"
	"solalert/internal/ingest"
	"solalert/internal/metrics"
	"solalert/internal/parser"
	"solalert/internal/state"
	"solalert/pkg/types"
)

// parserWorkers is the number of goroutines draining ingest channels and
// feeding the correlator. Parsing is cheap (regex cascade, no I/O) so a
// small fixed pool is enough to keep up with every source combined.
const parserWorkers = 4

// Engine orchestrates every component of the alert pipeline. It owns the
// lifecycle of all goroutines and the ordered shutdown sequence.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	ingestMgr  *ingest.Manager
	merged     <-chan types.RawMessage
	store      *state.Store
	dynamic    *correlator.DynamicThreshold
	correlator *correlator.Correlator
	log        *eventlog.Log
	mirror     *eventlog.RemoteMirror
	fanoutAdp  *fanout.Adapter
	registry   *fanout.HTTPRegistry
	apiServer  *api.Server
	metricsSrv *metricsServer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem but starts nothing.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	var mirror *eventlog.RemoteMirror
	if cfg.Mirror.Enabled {
		mirror = eventlog.NewRemoteMirror(cfg.Mirror, logger)
	}

	log, err := eventlog.Open(cfg.EventLog, mirrorOrNil(mirror), logger)
	if err != nil {
		return nil, err
	}

	ingestMgr, err := ingest.NewManager(cfg.Sources, logger)
	if err != nil {
		return nil, err
	}

	st := state.NewStore(cfg.Correlator.StateWindow, cfg.Correlator.HotlistSkew, cfg.Correlator.MaxTrackedContracts)
	dynamic := correlator.NewDynamicThreshold(cfg.Correlator)
	enrichClient := enrich.New(cfg.Enrich, logger)

	var registry *fanout.HTTPRegistry
	var fanoutAdp *fanout.Adapter
	if cfg.Fanout.RegistryURL != "" {
		registry = fanout.NewHTTPRegistry(cfg.Fanout, logger)
		fanoutAdp = fanout.New(cfg.Fanout, registry, cfg.DryRun, logger)
	}

	emitter := correlator.NewEmitter(st, cfg.Correlator, enrichClient, log, fanoutAdapterOrNil(fanoutAdp), dynamic, logger)
	corr := correlator.New(st, cfg.Correlator, dynamic, emitter, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		ingestMgr:  ingestMgr,
		store:      st,
		dynamic:    dynamic,
		correlator: corr,
		log:        log,
		mirror:     mirror,
		fanoutAdp:  fanoutAdp,
		registry:   registry,
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.API.Enabled {
		e.apiServer = api.NewServer(cfg.API, registryOrNil(registry), cfg.EventLog, logger)
	}
	if cfg.Metrics.Enabled {
		e.metricsSrv = newMetricsServer(cfg.Metrics, logger)
	}

	return e, nil
}

// mirrorOrNil avoids handing eventlog.Open a non-nil interface wrapping a
// nil *RemoteMirror, which would break its "mirror != nil" checks.
func mirrorOrNil(m *eventlog.RemoteMirror) eventlog.Mirror {
	if m == nil {
		return nil
	}
	return m
}

func fanoutAdapterOrNil(a *fanout.Adapter) correlator.FanoutAdapter {
	if a == nil {
		return noopFanout{}
	}
	return a
}

func registryOrNil(r *fanout.HTTPRegistry) api.Registry {
	if r == nil {
		return nil
	}
	return r
}

// noopFanout is used when fan-out is unconfigured (no registry URL):
// alerts still append to the durable log and serve over the read API,
// they just aren't pushed to any subscriber.
type noopFanout struct{}

func (noopFanout) Deliver(types.AlertRecord) {}

// Fatal reports the correlator's DurableWriteFailed-after-sidecar error,
// per spec §7 the only correlator failure mode that forces a process exit
// rather than being logged and absorbed. A caller should select on this
// alongside its shutdown signal and call Stop() before exiting non-zero.
func (e *Engine) Fatal() <-chan error {
	return e.correlator.Fatal()
}

// AuthFatal reports an unrecoverable ingest authentication failure (spec
// §4.1/§6), distinct from Fatal(): the caller should exit with the
// dedicated auth-failure exit code rather than the durable-write-failure
// one.
func (e *Engine) AuthFatal() <-chan error {
	return e.ingestMgr.Fatal()
}

// Start launches every background goroutine.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.ingestMgr.Run(e.ctx)
	}()

	e.merged = e.fanIn()
	for i := 0; i < parserWorkers; i++ {
		e.wg.Add(1)
		go func(worker int) {
			defer e.wg.Done()
			e.runParserWorker(worker)
		}(i)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.correlator.Run(e.ctx)
	}()

	if e.mirror != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.mirror.Run(e.ctx)
		}()
	}

	if e.fanoutAdp != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.fanoutAdp.Run(e.ctx)
		}()
	}

	if e.registry != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.registry.Run(e.ctx)
		}()
	}

	if e.apiServer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("read api server error", "error", err)
			}
		}()
	}

	if e.metricsSrv != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.metricsSrv.Start(e.ctx); err != nil {
				e.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	return nil
}

// runParserWorker drains the shared fan-in channel over every ingest
// source, converting each RawMessage to a ParsedEvent and submitting it
// to the correlator.
func (e *Engine) runParserWorker(worker int) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-e.merged:
			if !ok {
				return
			}
			evt, err := parser.Parse(msg)
			if err != nil {
				metrics.ParseMiss.WithLabelValues(msg.SourceID).Inc()
				continue
			}
			if err := e.correlator.Submit(e.ctx, *evt); err != nil {
				return
			}
		}
	}
}

// fanIn merges every source's channel onto a single channel shared by the
// parser worker pool. One merge goroutine per source feeds it.
func (e *Engine) fanIn() <-chan types.RawMessage {
	channels := e.ingestMgr.Channels()
	out := make(chan types.RawMessage, parserWorkers*64)
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch <-chan types.RawMessage) {
			defer wg.Done()
			for {
				select {
				case <-e.ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-e.ctx.Done():
						return
					}
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Stop gracefully shuts down under a single 5s budget: stops the read API,
// cancels all contexts, waits for subsystem goroutines and the mirror's
// final cycle, and closes the durable log last so every in-flight append
// has a chance to land first. Once the budget is spent the remaining waits
// are skipped.
//
// Grounded on engine.Stop()'s ordered "do X fully before starting Y"
// shutdown sequencing: cancel contexts, drain in-flight work, persist,
// wait, close — adapted from cancel-orders/save-positions/close-feeds to
// drain-correlator/drain-mirror/close-log.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	budget, cancelBudget := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelBudget()

	if e.apiServer != nil {
		if err := e.apiServer.Stop(budget); err != nil {
			e.logger.Error("failed to stop read api", "error", err)
		}
	}

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-budget.Done():
		e.logger.Warn("shutdown budget exceeded, proceeding with close anyway")
	}

	if e.mirror != nil {
		select {
		case <-e.mirror.Stopped():
		case <-budget.Done():
			e.logger.Warn("mirror did not finish its final cycle before shutdown budget elapsed")
		}
	}

	if err := e.log.Close(); err != nil {
		e.logger.Error("failed to close event log", "error", err)
	}

	e.logger.Info("shutdown complete")
}
