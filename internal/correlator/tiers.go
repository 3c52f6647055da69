// tiers.go implements the eligibility gates and tier-rule cascade that
// turn a TokenSnapshot into an AlertCandidate.
//
// Grounded on strategy/maker.go's quoteUpdate staged pipeline (stale
// check -> gates -> compute -> emit): every snapshot runs through the
// same ordered sequence — eligibility, then tiers 1 through 3 in order,
// first satisfied tier wins, then scoring penalties/boosts adjust it.
package correlator

import (
	"solalert/internal/config"
	"solalert/internal/metrics"
	"solalert/pkg/types"
)

// strongConfirmTags are the signals that count as "at least one strong
// confirmation" for Tier 1.
var strongConfirmTags = []types.SignalTag{
	types.TagMomentumSpike, types.TagLargeBuy, types.TagWhaleBuy, types.TagEarlyTrending,
}

// thresholds is the (possibly dynamically tightened) set of numeric gates
// in effect for one evaluation.
type thresholds struct {
	tier1MinMC float64
	tier1MaxMC float64
	tier2MinMC float64
	tier2MaxMC float64
}

// isEligible checks the gates that apply regardless of tier: a real
// contract, liquidity/market-cap bounds when known, and the social-only
// exclusion (a state whose sources are exclusively social_feed, with no
// buy-kind source at all, can never alert).
func isEligible(snap types.TokenSnapshot, cfg config.CorrelatorConfig) bool {
	ok, reason := isEligibleReason(snap, cfg)
	if !ok {
		metrics.EligibilityRejected.WithLabelValues(reason).Inc()
	}
	return ok
}

func isEligibleReason(snap types.TokenSnapshot, cfg config.CorrelatorConfig) (bool, string) {
	if len(snap.ContractAddress) >= len(types.HotlistPrefix) && snap.ContractAddress[:len(types.HotlistPrefix)] == types.HotlistPrefix {
		return false, "hotlist_sentinel"
	}
	if snap.LatestLiquidityUSD != nil && *snap.LatestLiquidityUSD < cfg.MinLiquidityUSD {
		return false, "low_liquidity"
	}
	if snap.LatestMarketCapUSD != nil && *snap.LatestMarketCapUSD > cfg.MaxMarketCapUSD {
		return false, "mc_too_high"
	}
	if socialOnly(snap) {
		return false, "social_only"
	}
	return true, ""
}

// socialOnly reports whether every source seen for this contract is a
// social feed — no buy-kind (or other corroborating) source has reported
// on it at all.
func socialOnly(snap types.TokenSnapshot) bool {
	if len(snap.SourcesSeen) == 0 {
		return false
	}
	for kind, seen := range snap.SourcesSeen {
		if !seen {
			continue
		}
		if kind != types.KindSocialFeed {
			return false
		}
	}
	return true
}

func hasAnyStrongConfirm(snap types.TokenSnapshot) bool {
	for _, tag := range strongConfirmTags {
		if snap.TagsUnion[tag] {
			return true
		}
	}
	return false
}

func countNonHotlistConfirms(snap types.TokenSnapshot) int {
	n := 0
	for _, tag := range strongConfirmTags {
		if snap.TagsUnion[tag] {
			n++
		}
	}
	return n
}

// evaluateTier runs the tier-rule cascade in declared order (1 before 2
// before 3) and returns the first tier whose rules are satisfied, or
// TierNone. th carries the dynamically-adjusted numeric thresholds.
func evaluateTier(snap types.TokenSnapshot, th thresholds) types.Tier {
	if !snap.HasCohortStart() {
		return types.TierNone
	}

	withinWindow := snap.TagsUnion[types.TagTop5Hotlist]
	lateHotlist := snap.TagsUnion[types.TagLateHotlist]
	mc := snap.LatestMarketCapUSD

	// Tier 1: hotlist within window, at least one strong confirm, MC band,
	// and (gate 1 is always true, so this disjunct is trivially satisfied —
	// see DESIGN.md's Open Question resolution) contract-present OR social
	// strength.
	if withinWindow && hasAnyStrongConfirm(snap) && mcInBand(mc, th.tier1MinMC, th.tier1MaxMC) {
		return types.Tier1
	}

	// Tier 2: hotlist within window, any confirmation tag, wider MC band.
	if withinWindow && hasAnyStrongConfirm(snap) && mcInBand(mc, th.tier2MinMC, th.tier2MaxMC) {
		return types.Tier2
	}

	// Tier 3: either 2+ non-hotlist confirmation tags, or a late (outside
	// window) hotlist observation. No MC ceiling beyond the global gate.
	if countNonHotlistConfirms(snap) >= 2 || lateHotlist {
		return types.Tier3
	}

	return types.TierNone
}

func mcInBand(mc *float64, lo, hi float64) bool {
	if mc == nil {
		return true // unknown MC does not block a tier; enrichment may fill it later
	}
	return *mc >= lo && *mc <= hi
}

// applyScoring applies the low-liquidity penalty, the buy-size boost, and
// (since no outcomes feed is wired in this build) a no-op churn check, to
// the tier a candidate would otherwise receive. Returns TierNone if the
// penalty demotes past Tier 3.
func applyScoring(tier types.Tier, snap types.TokenSnapshot, cfg config.CorrelatorConfig) types.Tier {
	if tier == types.TierNone {
		return tier
	}

	// low_liquidity_penalty: demote one tier, floor at no-alert.
	if snap.LatestLiquidityUSD != nil && *snap.LatestLiquidityUSD < cfg.LowLiquidityPenaltyUSD {
		tier = demote(tier)
	}

	// churn_penalty requires an outcomes feed this build does not ingest;
	// absence of outcome data means no penalty, per spec, so this is
	// intentionally a no-op rather than a stub gate.

	// buy_size_boost: only promotes across the Tier2/Tier3 boundary.
	if tier == types.Tier3 && (snap.TopBuySOL >= cfg.BuySizeBoostTopSOL || snap.LastBuySOL >= cfg.BuySizeBoostLastSOL) {
		tier = types.Tier2
	}

	return tier
}

func demote(t types.Tier) types.Tier {
	switch t {
	case types.Tier1:
		return types.Tier2
	case types.Tier2:
		return types.Tier3
	default:
		return types.TierNone
	}
}

// descriptionTheme picks the deterministic theme label for a candidate.
func descriptionTheme(snap types.TokenSnapshot) string {
	switch {
	case snap.TagsUnion[types.TagTop5Hotlist] || snap.TagsUnion[types.TagLateHotlist]:
		return "hotlist"
	case snap.TagsUnion[types.TagMomentumSpike]:
		return "momentum"
	case snap.TagsUnion[types.TagWhaleBuy] || snap.TagsUnion[types.TagLargeBuy]:
		return "smart_money"
	default:
		return "early_trending"
	}
}

// matchedSignals lists which confirmation tags the candidate actually
// carries, for the AlertRecord's matchedSignals field.
func matchedSignals(snap types.TokenSnapshot) []types.SignalTag {
	var out []types.SignalTag
	for _, tag := range strongConfirmTags {
		if snap.TagsUnion[tag] {
			out = append(out, tag)
		}
	}
	if snap.TagsUnion[types.TagTop5Hotlist] {
		out = append(out, types.TagTop5Hotlist)
	}
	if snap.TagsUnion[types.TagLateHotlist] {
		out = append(out, types.TagLateHotlist)
	}
	return out
}

// Evaluate runs eligibility, the tier cascade, and scoring, returning an
// AlertCandidate when a tier fires.
func Evaluate(snap types.TokenSnapshot, cfg config.CorrelatorConfig, dyn Adjustment) (types.AlertCandidate, bool) {
	if !isEligible(snap, cfg) {
		return types.AlertCandidate{}, false
	}

	th := thresholds{
		tier1MinMC: cfg.Tier1MinMC,
		tier1MaxMC: cfg.Tier1MaxMC + dyn.MCDeltaUSD,
		tier2MinMC: cfg.Tier2MinMC,
		tier2MaxMC: cfg.Tier2MaxMC,
	}
	// The social-strength disjunct (callers >= N AND subs >= M) is never the
	// deciding factor: Tier 1's other disjunct, "contract is present", holds
	// unconditionally once isEligible has passed (gate 1 requires a real
	// address). dyn.AdjustedCallers/AdjustedSubs still exist and still track
	// the dynamic tightening described in spec's §4.4, should a future social
	// data source make the disjunct reachable; see DESIGN.md.

	tier := evaluateTier(snap, th)
	tier = applyScoring(tier, snap, cfg)
	if tier == types.TierNone {
		return types.AlertCandidate{}, false
	}

	return types.AlertCandidate{
		Snapshot:         snap,
		Tier:             tier,
		MatchedSignals:   matchedSignals(snap),
		Tags:             unionTags(snap),
		DescriptionTheme: descriptionTheme(snap),
	}, true
}

func unionTags(snap types.TokenSnapshot) []types.SignalTag {
	var out []types.SignalTag
	for tag, present := range snap.TagsUnion {
		if present {
			out = append(out, tag)
		}
	}
	return out
}
