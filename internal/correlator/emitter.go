// emitter.go implements the dedup-check -> enrich -> append -> fan-out ->
// mark_alerted sequence. The append-before-fan-out ordering is load-bearing:
// a crash between the two may cost a subscriber a notification, but the
// durable log is always the source of truth.
//
// Grounded on engine.Stop()'s ordered "do X fully before starting Y"
// shutdown sequencing, and exchange/client.go's resty-based
// external-call-with-timeout pattern for the enrichment step.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"solalert/internal/config"
	"solalert/internal/metrics"
	"solalert/internal/state"
	"solalert/pkg/types"
)

// Enricher fetches a live market-cap quote for a contract. Implementations
// must honor ctx's deadline and never block the correlator indefinitely.
type Enricher interface {
	Quote(ctx context.Context, contract string) (marketCapUSD float64, ok bool, err error)
}

// EventLog is the durable append target. HasID supports same-day id
// collision detection (contract[0:8]_date, _v2, _v3, ...).
type EventLog interface {
	Append(ctx context.Context, rec types.AlertRecord) error
	HasID(id string) bool
	UpdateCallersSubs(token string, tier *types.Tier, callers, subs int) error
}

// FanoutAdapter delivers a freshly-appended record to subscribers. It must
// never propagate errors back into the emitter.
type FanoutAdapter interface {
	Deliver(rec types.AlertRecord)
}

// Emitter runs the dedup/enrich/append/fanout/mark_alerted sequence for
// every AlertCandidate the tier cascade produces.
type Emitter struct {
	store   *state.Store
	cfg     config.CorrelatorConfig
	enrich  Enricher
	log     EventLog
	fanout  FanoutAdapter
	dynamic *DynamicThreshold
	logger  *slog.Logger
}

// NewEmitter wires the emitter's collaborators.
func NewEmitter(store *state.Store, cfg config.CorrelatorConfig, enrich Enricher, log EventLog, fanout FanoutAdapter, dynamic *DynamicThreshold, logger *slog.Logger) *Emitter {
	return &Emitter{
		store:   store,
		cfg:     cfg,
		enrich:  enrich,
		log:     log,
		fanout:  fanout,
		dynamic: dynamic,
		logger:  logger.With("component", "emitter"),
	}
}

// Emit runs the full sequence for one candidate. Only a DurableWriteFailed
// fatal error propagates to the caller (the correlator), which surfaces it
// to the engine for a controlled process exit; every other failure mode is
// logged and absorbed here.
func (e *Emitter) Emit(ctx context.Context, cand types.AlertCandidate) error {
	snap := cand.Snapshot

	if e.isSuppressed(snap, cand.Tier) {
		metrics.DedupeSuppressed.Inc()
		e.logger.Debug("dedup suppressed", "contract", snap.ContractAddress, "tier", cand.Tier)
		return nil
	}

	entryMC, staleMC := e.resolveEntryMC(ctx, snap)

	rec := e.buildRecord(cand, entryMC, staleMC)

	if err := e.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("durable append failed for %s: %w", rec.ID, err)
	}

	e.fanout.Deliver(rec)
	metrics.AlertsEmitted.WithLabelValues(rec.Tier.String()).Inc()

	e.store.MarkAlerted(snap.ContractAddress, cand.Tier, rec.Timestamp)
	if cand.Tier == types.Tier1 {
		e.dynamic.RecordTier1(rec.Timestamp)
	}

	return nil
}

// isSuppressed implements the dedup rule: an equal-or-weaker tier does not
// re-alert within W_dedupe; a strictly stronger tier always emits.
func (e *Emitter) isSuppressed(snap types.TokenSnapshot, tier types.Tier) bool {
	if snap.AlertedTier == types.TierNone {
		return false
	}
	if tier.Stronger(snap.AlertedTier) {
		return false
	}
	return time.Since(snap.AlertedAt) < e.cfg.DedupeWindow
}

// resolveEntryMC fills entryMc from the parsed snapshot if known, else
// attempts a bounded enrichment call; on enrichment failure or timeout it
// falls back to whatever the snapshot knows (possibly nil) and tags the
// record stale_mc.
func (e *Emitter) resolveEntryMC(ctx context.Context, snap types.TokenSnapshot) (entryMC *float64, stale bool) {
	if snap.LatestMarketCapUSD != nil {
		return snap.LatestMarketCapUSD, false
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.IngestLatencyBudget)
	defer cancel()

	mc, ok, err := e.enrich.Quote(qctx, snap.ContractAddress)
	if err != nil || !ok {
		e.logger.Debug("enrichment unavailable, falling back to parsed market cap",
			"contract", snap.ContractAddress, "error", err)
		return nil, true
	}
	return &mc, false
}

func (e *Emitter) buildRecord(cand types.AlertCandidate, entryMC *float64, staleMC bool) types.AlertRecord {
	snap := cand.Snapshot
	now := time.Now().UTC()

	tags := cand.Tags
	if staleMC {
		tags = append(tags, types.TagStaleMC)
	}

	hotlist := "No"
	if snap.TagsUnion[types.TagTop5Hotlist] || snap.TagsUnion[types.TagLateHotlist] {
		hotlist = "Yes"
	}

	id := e.allocateID(snap.ContractAddress, now)

	return types.AlertRecord{
		ID:                id,
		Token:             snap.Symbol,
		Tier:              cand.Tier,
		Level:             types.LevelForTier(cand.Tier),
		Timestamp:         now,
		Contract:          snap.ContractAddress,
		EntryMC:           entryMC,
		Hotlist:           hotlist,
		Description:       describeTheme(cand.DescriptionTheme, snap.Symbol),
		MatchedSignals:    tagStrings(cand.MatchedSignals),
		Tags:              tagStrings(tags),
		Liquidity:         snap.LatestLiquidityUSD,
		Callers:           snap.TotalCallers,
		Subs:              snap.TotalSubs,
		ConfirmationCount: len(cand.MatchedSignals),
		CohortTime:        formatCohortTime(now.Sub(snap.CohortStart)),
	}
}

// formatCohortTime renders a cohort's age as a relative string ("3h ago",
// "45m ago"), reconstructable against the record's Timestamp — not an
// absolute clock time.
func formatCohortTime(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age/time.Minute))
	default:
		return fmt.Sprintf("%dh ago", int(age/time.Hour))
	}
}

// allocateID builds the deterministic id contract[0:8]_UTCdate, appending
// _v2, _v3, ... on same-day collision.
func (e *Emitter) allocateID(contract string, at time.Time) string {
	prefix := contract
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	base := fmt.Sprintf("%s_%s", strings.ToUpper(prefix), at.Format("2006-01-02"))

	if !e.log.HasID(base) {
		return base
	}
	for v := 2; ; v++ {
		candidate := fmt.Sprintf("%s_v%d", base, v)
		if !e.log.HasID(candidate) {
			return candidate
		}
	}
}

func tagStrings(tags []types.SignalTag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

func describeTheme(theme, symbol string) string {
	switch theme {
	case "hotlist":
		return fmt.Sprintf("%s entered the hotlist with confirming buy activity", symbol)
	case "momentum":
		return fmt.Sprintf("%s showing a momentum spike", symbol)
	case "smart_money":
		return fmt.Sprintf("%s attracting large/whale buys", symbol)
	default:
		return fmt.Sprintf("%s trending early", symbol)
	}
}
