// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the alert pipeline — sources,
// raw and parsed messages, per-contract rolling state, alert candidates and
// records, and the external subscriber registry shape. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// SourceKind classifies what an upstream chat source reports on. Tag
// assignment and the eligibility gates in the correlator both branch on it.
type SourceKind string

const (
	KindBuyFeed      SourceKind = "buy_feed"
	KindSocialFeed   SourceKind = "social_feed"
	KindMomentumFeed SourceKind = "momentum_feed"
	KindTrendingFeed SourceKind = "trending_feed"
	KindHotlistFeed  SourceKind = "hotlist_feed"
)

// Tier ranks alert confidence. Lower numbers are stronger: 1 > 2 > 3.
type Tier int

const (
	TierNone Tier = 0 // no alert has fired
	Tier1    Tier = 1
	Tier2    Tier = 2
	Tier3    Tier = 3
)

// Stronger reports whether t is a strictly stronger (lower-numbered,
// nonzero) tier than other.
func (t Tier) Stronger(other Tier) bool {
	if t == TierNone {
		return false
	}
	if other == TierNone {
		return true
	}
	return t < other
}

// String renders a Tier as a metrics/log label.
func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	default:
		return "none"
	}
}

// Level is the coarse HIGH/MEDIUM classification redundantly derived from
// Tier: HIGH iff tier 1, MEDIUM otherwise.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
)

// LevelForTier returns the Level corresponding to a Tier.
func LevelForTier(t Tier) Level {
	if t == Tier1 {
		return LevelHigh
	}
	return LevelMedium
}

// SignalTag is a categorical confirmation signal extracted by the parser.
// Tier rules reference these tags, not raw numeric thresholds directly.
type SignalTag string

const (
	TagEarlyTrending SignalTag = "early_trending"
	TagMomentumSpike SignalTag = "momentum_spike"
	TagLargeBuy      SignalTag = "large_buy"
	TagWhaleBuy      SignalTag = "whale_buy"
	TagTop5Hotlist   SignalTag = "top5_hotlist"
	TagLateHotlist   SignalTag = "late_hotlist"
	TagStaleMC       SignalTag = "stale_mc"
	// TagCohortConfirm marks the momentum-tracker 2x/3x confirmation that
	// establishes a token's cohort start (T0). Exactly one such tag per
	// contract matters: the first one observed.
	TagCohortConfirm SignalTag = "cohort_confirm"
)

// HotlistPrefix is prepended to a bare symbol to form the sentinel contract
// address used when only a symbol, not a real contract, is known yet.
const HotlistPrefix = "HOTLIST:"

// ————————————————————————————————————————————————————————————————————————
// Sources
// ————————————————————————————————————————————————————————————————————————

// Source is a named, immutable upstream chat stream, configured at startup.
type Source struct {
	ID   string     // stable string identifier
	Kind SourceKind // determines baseline tags and eligibility
}

// ————————————————————————————————————————————————————————————————————————
// Ingest
// ————————————————————————————————————————————————————————————————————————

// Entity is a URL entity attached to a chat message, with its anchor text.
// Several source transports expose link text separately from the message
// body; the parser's address cascade checks entities before body text.
type Entity struct {
	URL  string
	Text string
}

// RawMessage is one inbound chat message, created on arrival and consumed
// by the parser. It is discarded after parsing, successful or not.
type RawMessage struct {
	SourceID   string
	SourceKind SourceKind
	ReceivedAt time.Time // wall-clock receipt time
	Text       string
	Entities   []Entity
}

// ————————————————————————————————————————————————————————————————————————
// Parsed events
// ————————————————————————————————————————————————————————————————————————

// ParsedEvent is a message that yielded usable data. Either ContractAddress
// is a canonical contract address, or it is the hotlist sentinel
// "HOTLIST:<SYM>" — never both, never neither.
type ParsedEvent struct {
	SourceID   string
	SourceKind SourceKind
	ObservedAt time.Time // when the parser produced the event
	WallClock  time.Time // RawMessage.ReceivedAt, carried through for latency checks

	ContractAddress string // canonical uppercase address, or HOTLIST:SYM
	Symbol          string

	MarketCapUSD *float64
	LiquidityUSD *float64
	BuySOL       *float64
	Callers      *int
	Subs         *int

	SignalTags []SignalTag
}

// IsHotlist reports whether this event carries the hotlist sentinel rather
// than a real contract address.
func (e ParsedEvent) IsHotlist() bool {
	return len(e.ContractAddress) >= len(HotlistPrefix) && e.ContractAddress[:len(HotlistPrefix)] == HotlistPrefix
}

// HasTag reports whether the event carries the given signal tag.
func (e ParsedEvent) HasTag(tag SignalTag) bool {
	for _, t := range e.SignalTags {
		if t == tag {
			return true
		}
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Token state
// ————————————————————————————————————————————————————————————————————————

// TokenSnapshot is the immutable view of a tracked contract's state handed
// to the correlator's rule evaluation. It never aliases the store's
// internal slices or maps.
type TokenSnapshot struct {
	ContractAddress string
	Symbol          string
	FirstSeenAt     time.Time
	LastUpdatedAt   time.Time
	Events          []ParsedEvent // copy of the event ring, oldest first
	SourcesSeen     map[SourceKind]bool
	TagsUnion       map[SignalTag]bool

	CohortStart    time.Time // zero if no momentum-tracker confirmation yet
	AlertedTier    Tier
	AlertedAt      time.Time

	LatestMarketCapUSD *float64
	LatestLiquidityUSD *float64
	TopBuySOL          float64
	LastBuySOL         float64
	TotalCallers       *int
	TotalSubs          *int
}

// HasCohortStart reports whether a momentum-tracker confirmation has been
// observed for this contract.
func (s TokenSnapshot) HasCohortStart() bool {
	return !s.CohortStart.IsZero()
}

// ————————————————————————————————————————————————————————————————————————
// Alert candidates and records
// ————————————————————————————————————————————————————————————————————————

// AlertCandidate is the ephemeral output of tier scoring, handed to the
// dedup/emitter stage. It carries everything needed to build an
// AlertRecord without re-reading token state.
type AlertCandidate struct {
	Snapshot         TokenSnapshot
	Tier             Tier
	MatchedSignals   []SignalTag
	Tags             []SignalTag
	DescriptionTheme string
}

// AlertRecord is durable: once appended to the event log, the only
// permitted mutation is the XTRACK echo updating Callers/Subs in place.
// JSON field names and casing follow the persisted wire format exactly.
type AlertRecord struct {
	ID                string    `json:"id"`
	Token             string    `json:"token"`
	Tier              Tier      `json:"tier"`
	Level             Level     `json:"level"`
	Timestamp         time.Time `json:"timestamp"`
	Contract          string    `json:"contract"`
	EntryMC           *float64  `json:"entryMc"`
	Hotlist           string    `json:"hotlist"` // "Yes" or "No"
	Description       string    `json:"description"`
	MatchedSignals    []string  `json:"matchedSignals"`
	Tags              []string  `json:"tags"`
	Liquidity         *float64  `json:"liquidity,omitempty"`
	Callers           *int      `json:"callers,omitempty"`
	Subs              *int      `json:"subs,omitempty"`
	ConfirmationCount int       `json:"confirmationCount"`
	// CohortTime is a relative string ("3h ago", "45m ago") describing how
	// long ago the cohort that produced this alert started, reconstructable
	// against Timestamp — not an absolute timestamp.
	CohortTime string `json:"cohortTime"`
}

// ————————————————————————————————————————————————————————————————————————
// Subscriber registry (external)
// ————————————————————————————————————————————————————————————————————————

// SubscriberKind identifies whether a subscriber is an individual user or a
// group/channel.
type SubscriberKind string

const (
	SubscriberUser  SubscriberKind = "user"
	SubscriberGroup SubscriberKind = "group"
)

// SubscriberRecord is one entry in the external subscriber registry. This
// repo only reads it for fan-out purposes; the chat-bot subscription UI
// owns creation and mutation.
type SubscriberRecord struct {
	SubscriberID string
	WebhookURL   string
	Kind         SubscriberKind
	TierFilter   map[Tier]bool
}

// WantsTier reports whether the subscriber's filter admits the given tier.
// An empty filter admits every tier.
func (s SubscriberRecord) WantsTier(t Tier) bool {
	if len(s.TierFilter) == 0 {
		return true
	}
	return s.TierFilter[t]
}
