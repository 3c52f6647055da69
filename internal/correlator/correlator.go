// Package correlator owns the single linearizer task: it is the only
// consumer of parsed events and the only writer of per-contract state, so
// every tier evaluation and alert emission is serialized without needing a
// lock around the correlation logic itself.
//
// Grounded on strategy/maker.go's single quoteUpdate-consuming goroutine,
// which is likewise the sole writer of position/quote state for its market.
package correlator

import (
	"context"
	"log/slog"
	"sync/atomic"

	"solalert/internal/config"
	"solalert/internal/metrics"
	"solalert/internal/state"
	"solalert/pkg/types"
)

// inboxSize is the parsed-event channel capacity. Sized well above expected
// burst rate from the full source set; the linearizer is fast per event
// (map lookup, rule evaluation) so it should never back up in practice.
const inboxSize = 4096

// Correlator is the single task that folds parsed events into rolling
// per-contract state, evaluates the tier cascade, and drives the emitter.
type Correlator struct {
	store   *state.Store
	cfg     config.CorrelatorConfig
	dynamic *DynamicThreshold
	emitter *Emitter
	logger  *slog.Logger

	inbox chan types.ParsedEvent
	fatal chan error

	droppedStale  atomic.Int64
	evaluated     atomic.Int64
	alertsEmitted atomic.Int64
}

// New wires a Correlator. The caller owns starting Run on its own goroutine
// and feeding events in via Submit.
func New(store *state.Store, cfg config.CorrelatorConfig, dynamic *DynamicThreshold, emitter *Emitter, logger *slog.Logger) *Correlator {
	return &Correlator{
		store:   store,
		cfg:     cfg,
		dynamic: dynamic,
		emitter: emitter,
		logger:  logger.With("component", "correlator"),
		inbox:   make(chan types.ParsedEvent, inboxSize),
		fatal:   make(chan error, 1),
	}
}

// Fatal reports a DurableWriteFailed error that exhausted even the
// emergency sidecar fallback — per spec §7, the only emitter failure mode
// the process does not merely log and absorb. The engine selects on this
// to trigger a controlled shutdown and non-zero exit.
func (c *Correlator) Fatal() <-chan error {
	return c.fatal
}

// Submit hands a parsed event to the linearizer. It blocks if the inbox is
// full (back-pressuring the parser pool) unless ctx is cancelled first.
func (c *Correlator) Submit(ctx context.Context, evt types.ParsedEvent) error {
	select {
	case c.inbox <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the linearizer loop: every state mutation and every alert emission
// happens on this single goroutine. It exits when ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) {
	for {
		select {
		case evt := <-c.inbox:
			c.process(ctx, evt)
		case <-ctx.Done():
			return
		}
	}
}

// process admits one event: the ingest-latency-budget check runs first (a
// message too stale by the time it reaches the linearizer is dropped rather
// than folded into state, since an alert built on it would itself arrive
// late), then state upsert, tier evaluation, and emission.
func (c *Correlator) process(ctx context.Context, evt types.ParsedEvent) {
	if !evt.WallClock.IsZero() {
		if lag := evt.ObservedAt.Sub(evt.WallClock); lag > c.cfg.IngestLatencyBudget {
			c.droppedStale.Add(1)
			metrics.DroppedStaleEvents.Inc()
			c.logger.Warn("dropping event past ingest latency budget",
				"contract", evt.ContractAddress, "lag", lag, "budget", c.cfg.IngestLatencyBudget)
			return
		}
	}

	snap := c.store.Upsert(evt)
	c.evaluated.Add(1)

	cand, ok := Evaluate(snap, c.cfg, c.dynamic.Current())
	if !ok {
		return
	}

	if err := c.emitter.Emit(ctx, cand); err != nil {
		c.logger.Error("alert emission failed", "contract", snap.ContractAddress, "tier", cand.Tier, "error", err)
		select {
		case c.fatal <- err:
		default:
		}
		return
	}
	c.alertsEmitted.Add(1)
}

// Stats reports running counters for periodic logging and metrics export.
type Stats struct {
	DroppedStale  int64
	Evaluated     int64
	AlertsEmitted int64
	TrackedTokens int
}

func (c *Correlator) StatsSnapshot() Stats {
	return Stats{
		DroppedStale:  c.droppedStale.Load(),
		Evaluated:     c.evaluated.Load(),
		AlertsEmitted: c.alertsEmitted.Load(),
		TrackedTokens: c.store.Len(),
	}
}
