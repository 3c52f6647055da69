// Package state tracks per-contract rolling windows of parsed events.
//
// Grounded on strategy/flow_tracker.go's rolling-window-with-eviction
// (evictStaleLocked) for the event ring, and market/book.go's
// RWMutex-guarded snapshot accessor pattern for exposing an immutable
// view to the correlator without aliasing internal slices.
package state

import (
	"strings"
	"sync"
	"time"

	"solalert/pkg/types"
)

// tokenState is the mutable per-contract record. All access goes through
// Store's locked methods; nothing here is exported.
type tokenState struct {
	contractAddress string
	symbol          string
	firstSeenAt     time.Time
	lastUpdatedAt   time.Time
	events          []types.ParsedEvent
	sourcesSeen     map[types.SourceKind]bool
	tagsUnion       map[types.SignalTag]bool

	cohortStart time.Time
	alertedTier types.Tier
	alertedAt   time.Time

	latestMarketCapUSD *float64
	latestLiquidityUSD *float64
	topBuySOL          float64
	lastBuySOL         float64
	totalCallers       *int
	totalSubs          *int

	lastTouchedAt time.Time // for LRU eviction, independent of event timestamps
}

// Store is the keyed collection of tracked contracts. Only the
// correlator's task (the correlator and its emitter) calls it; callers
// receive snapshots, never the internal state.
type Store struct {
	mu sync.RWMutex

	stateWindow time.Duration // W_state
	hotlistSkew time.Duration // ±20min cohort/hotlist alignment
	maxTracked  int

	byContract map[string]*tokenState
}

// NewStore builds an empty store. stateWindow bounds both the event ring
// and how long an orphaned hotlist sentinel is retained awaiting its real
// contract; maxTracked bounds total tracked contracts via LRU eviction.
func NewStore(stateWindow, hotlistSkew time.Duration, maxTracked int) *Store {
	return &Store{
		stateWindow: stateWindow,
		hotlistSkew: hotlistSkew,
		maxTracked:  maxTracked,
		byContract:  make(map[string]*tokenState),
	}
}

// Upsert folds a parsed event into the contract's rolling state, evicting
// stale ring entries, reconciling hotlist sentinels against matching real
// contracts by symbol + first-seen proximity, and enforcing the tracked-
// contract cap via LRU eviction. Returns the resulting snapshot.
func (s *Store) Upsert(evt types.ParsedEvent) types.TokenSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.byContract[evt.ContractAddress]
	if !ok {
		ts = &tokenState{
			contractAddress: evt.ContractAddress,
			symbol:          evt.Symbol,
			firstSeenAt:     evt.ObservedAt,
			sourcesSeen:     make(map[types.SourceKind]bool),
			tagsUnion:       make(map[types.SignalTag]bool),
		}
		s.byContract[evt.ContractAddress] = ts
	}

	s.applyLocked(ts, evt)

	result := ts
	if evt.IsHotlist() {
		// The sentinel itself never passes eligibility gate 1, so there is
		// nothing to evaluate for it directly. If a real-contract state for
		// this symbol already exists, reconcile immediately and hand back
		// ITS snapshot instead, so the correlator evaluates the contract
		// that can actually alert rather than the inert sentinel.
		if real := s.findRealStateBySymbolLocked(evt.Symbol); real != nil {
			s.reconcileHotlistLocked(real)
			result = real
		}
	} else {
		s.reconcileHotlistLocked(ts)
	}

	s.evictLRULocked()

	return snapshotLocked(result)
}

// findRealStateBySymbolLocked finds a tracked real-contract state (never a
// hotlist sentinel) whose symbol matches, for reconciling an incoming
// hotlist event against a contract already seen by other sources.
func (s *Store) findRealStateBySymbolLocked(symbol string) *tokenState {
	if symbol == "" {
		return nil
	}
	symbol = strings.ToUpper(symbol)
	for addr, ts := range s.byContract {
		if strings.HasPrefix(addr, types.HotlistPrefix) {
			continue
		}
		if strings.ToUpper(ts.symbol) == symbol {
			return ts
		}
	}
	return nil
}

func (s *Store) applyLocked(ts *tokenState, evt types.ParsedEvent) {
	ts.events = append(ts.events, evt)
	ts.lastUpdatedAt = evt.ObservedAt
	ts.lastTouchedAt = evt.ObservedAt
	ts.sourcesSeen[evt.SourceKind] = true
	if ts.symbol == "" && evt.Symbol != "" {
		ts.symbol = evt.Symbol
	}

	for _, tag := range evt.SignalTags {
		ts.tagsUnion[tag] = true
		if tag == types.TagCohortConfirm && ts.cohortStart.IsZero() {
			ts.cohortStart = evt.ObservedAt
		}
	}

	if evt.MarketCapUSD != nil {
		ts.latestMarketCapUSD = evt.MarketCapUSD
	}
	if evt.LiquidityUSD != nil {
		ts.latestLiquidityUSD = evt.LiquidityUSD
	}
	if evt.BuySOL != nil {
		ts.lastBuySOL = *evt.BuySOL
		if *evt.BuySOL > ts.topBuySOL {
			ts.topBuySOL = *evt.BuySOL
		}
	}
	if evt.Callers != nil {
		ts.totalCallers = evt.Callers
	}
	if evt.Subs != nil {
		ts.totalSubs = evt.Subs
	}

	s.evictStaleLocked(ts)
}

// maxTrackedEvents bounds the per-contract event ring at 256 entries
// regardless of how recent they are, independent of the time-based trim.
const maxTrackedEvents = 256

// evictStaleLocked drops ring entries older than W_state, mirroring
// FlowTracker.evictStaleLocked's cutoff-scan-and-slice approach, then caps
// whatever remains at maxTrackedEvents, keeping the most recent entries.
func (s *Store) evictStaleLocked(ts *tokenState) {
	if len(ts.events) == 0 {
		return
	}
	cutoff := ts.lastUpdatedAt.Add(-s.stateWindow)
	validIdx := -1
	for i, e := range ts.events {
		if e.ObservedAt.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx == -1 {
		ts.events = ts.events[:0]
		return
	}
	if validIdx > 0 {
		ts.events = ts.events[validIdx:]
	}
	if len(ts.events) > maxTrackedEvents {
		ts.events = ts.events[len(ts.events)-maxTrackedEvents:]
	}
}

// reconcileHotlistLocked merges a matching orphan hotlist sentinel's
// top5_hotlist tag onto a real-contract state, when the symbol matches
// and the real contract's first-seen time falls within ±hotlistSkew of
// the hotlist event's arrival. A hotlist event for the same symbol
// outside that window is tagged late_hotlist instead — it still counts
// for Tier 3 eligibility, just not Tier 1/2's "within window" gate.
func (s *Store) reconcileHotlistLocked(real *tokenState) {
	if real.symbol == "" {
		return
	}
	sentinel := types.HotlistPrefix + strings.ToUpper(real.symbol)
	orphan, ok := s.byContract[sentinel]
	if !ok {
		return
	}

	withinWindow := false
	sawAny := false
	for _, e := range orphan.events {
		sawAny = true
		if absDuration(real.firstSeenAt.Sub(e.ObservedAt)) <= s.hotlistSkew {
			withinWindow = true
		}
	}
	if withinWindow {
		real.tagsUnion[types.TagTop5Hotlist] = true
	} else if sawAny {
		real.tagsUnion[types.TagLateHotlist] = true
	}
}

// evictLRULocked drops the least-recently-touched contract once the
// tracked set exceeds maxTracked and that contract has been idle at
// least one state window — never evicts a contract still inside its
// active window even if the map is momentarily over the soft cap.
func (s *Store) evictLRULocked() {
	if len(s.byContract) <= s.maxTracked {
		return
	}

	var oldestKey string
	var oldestTime time.Time
	now := time.Now()

	for k, ts := range s.byContract {
		if now.Sub(ts.lastTouchedAt) < s.stateWindow {
			continue
		}
		if oldestKey == "" || ts.lastTouchedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = ts.lastTouchedAt
		}
	}
	if oldestKey != "" {
		delete(s.byContract, oldestKey)
	}
}

// Snapshot returns an immutable copy of a contract's current state, or
// false if it isn't tracked.
func (s *Store) Snapshot(contract string) (types.TokenSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.byContract[contract]
	if !ok {
		return types.TokenSnapshot{}, false
	}
	return snapshotLocked(ts), true
}

// MarkAlerted records that an alert fired at the given tier. The stored
// alerted tier only ever strengthens: mark_alerted(contract, t) sets
// alertedTier := max(alertedTier, t) under the {1 > 2 > 3} ranking, so a
// later call with a weaker tier never downgrades a prior stronger record.
// A call at the same tier refreshes the recorded alert time.
func (s *Store) MarkAlerted(contract string, tier types.Tier, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.byContract[contract]
	if !ok {
		return
	}
	if tier.Stronger(ts.alertedTier) || ts.alertedTier == types.TierNone || tier == ts.alertedTier {
		ts.alertedTier = tier
		ts.alertedAt = at
	}
}

func snapshotLocked(ts *tokenState) types.TokenSnapshot {
	events := make([]types.ParsedEvent, len(ts.events))
	copy(events, ts.events)

	sources := make(map[types.SourceKind]bool, len(ts.sourcesSeen))
	for k, v := range ts.sourcesSeen {
		sources[k] = v
	}
	tags := make(map[types.SignalTag]bool, len(ts.tagsUnion))
	for k, v := range ts.tagsUnion {
		tags[k] = v
	}

	return types.TokenSnapshot{
		ContractAddress:    ts.contractAddress,
		Symbol:             ts.symbol,
		FirstSeenAt:        ts.firstSeenAt,
		LastUpdatedAt:      ts.lastUpdatedAt,
		Events:             events,
		SourcesSeen:        sources,
		TagsUnion:          tags,
		CohortStart:        ts.cohortStart,
		AlertedTier:        ts.alertedTier,
		AlertedAt:          ts.alertedAt,
		LatestMarketCapUSD: ts.latestMarketCapUSD,
		LatestLiquidityUSD: ts.latestLiquidityUSD,
		TopBuySOL:          ts.topBuySOL,
		LastBuySOL:         ts.lastBuySOL,
		TotalCallers:       ts.totalCallers,
		TotalSubs:          ts.totalSubs,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Len reports how many contracts are currently tracked. Exposed for
// periodic-job logging and tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byContract)
}
