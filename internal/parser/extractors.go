package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"solalert/pkg/types"
)

// Canonical Solana addresses are base58, 32-44 characters, no 0/O/I/l.
var base58Addr = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)

var (
	caPrefix     = regexp.MustCompile(`(?i)\b(?:CA|Contract|Mint)\s*[:=]\s*([1-9A-HJ-NP-Za-km-z]{32,44})\b`)
	dexLinkAddr  = regexp.MustCompile(`(?i)(?:dexscreener\.com/solana|pump\.fun|solscan\.io/token|birdeye\.so/token)/([1-9A-HJ-NP-Za-km-z]{32,44})`)
	cashtag      = regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9]{1,14})\b`)
	hotlistLine  = regexp.MustCompile(`(?i)HOTLIST\s*[:=]\s*\$?([A-Za-z][A-Za-z0-9]{1,14})\b`)
	mcPattern    = regexp.MustCompile(`(?i)\b(?:MC|Market\s*Cap)\s*[:=]?\s*\$?([0-9][0-9,]*\.?[0-9]*)\s*([KMB])?`)
	liqPattern   = regexp.MustCompile(`(?i)\b(?:Liq(?:uidity)?)\s*[:=]?\s*\$?([0-9][0-9,]*\.?[0-9]*)\s*([KMB])?`)
	buyPattern   = regexp.MustCompile(`(?i)\b(?:Buy|Bought)\s*[:=]?\s*([0-9][0-9,]*\.?[0-9]*)\s*SOL`)
	callerPat    = regexp.MustCompile(`(?i)\b([0-9][0-9,]*)\s*callers?\b`)
	subsPat      = regexp.MustCompile(`(?i)\b([0-9][0-9,]*)\s*subs(?:cribers)?\b`)
	whalePat     = regexp.MustCompile(`(?i)\bwhale\s*buy\b`)
	largeBuyPat  = regexp.MustCompile(`(?i)\blarge\s*buy\b`)
	momentumPat  = regexp.MustCompile(`(?i)\b([23])x\b.*\bmomentum\b|\bmomentum\b.*\b([23])x\b`)
	trendingPat  = regexp.MustCompile(`(?i)\bearly\s*trending\b|\btrending\s*now\b`)
	top5HotPat   = regexp.MustCompile(`(?i)\btop\s*5\b|\btop5\b`)
)

// extractHotlistSentinel recognizes a bare hotlist announcement that names
// only a symbol, not yet a real contract.
func extractHotlistSentinel(m types.RawMessage) (fragment, bool) {
	if m.SourceKind != types.KindHotlistFeed {
		return fragment{}, false
	}
	match := hotlistLine.FindStringSubmatch(m.Text)
	if match == nil {
		match = cashtag.FindStringSubmatch(m.Text)
	}
	if match == nil {
		return fragment{}, false
	}
	return fragment{
		contractAddress: types.HotlistPrefix + strings.ToUpper(match[1]),
		symbol:          match[1],
	}, true
}

// extractContractAddress runs the address cascade: entity URLs, then
// dex/explorer links in body text, then keyed labels ("CA: ..."), then a
// generic bare base58 token. An Ethereum-shaped (0x...) address anywhere
// in the message is rejected outright rather than falling through to the
// base58 check, per the "Ethereum-style addresses are rejected outright"
// rule — a Solana message quoting an EVM bridge address must not be
// mistaken for this chain's contract.
func extractContractAddress(m types.RawMessage) (fragment, bool) {
	for _, e := range m.Entities {
		if common.IsHexAddress(e.URL) || common.IsHexAddress(e.Text) {
			return fragment{}, false
		}
		if match := dexLinkAddr.FindStringSubmatch(e.URL); match != nil {
			return fragment{contractAddress: strings.ToUpper(match[1])}, true
		}
	}

	if hasHexAddress(m.Text) {
		return fragment{}, false
	}

	if match := dexLinkAddr.FindStringSubmatch(m.Text); match != nil {
		return fragment{contractAddress: strings.ToUpper(match[1])}, true
	}
	if match := caPrefix.FindStringSubmatch(m.Text); match != nil {
		return fragment{contractAddress: strings.ToUpper(match[1])}, true
	}
	if match := base58Addr.FindString(m.Text); match != "" {
		return fragment{contractAddress: strings.ToUpper(match)}, true
	}
	return fragment{}, false
}

func hasHexAddress(text string) bool {
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,!?()[]")
		if common.IsHexAddress(word) {
			return true
		}
	}
	return false
}

// extractSymbol pulls a cashtag ($SYMBOL) if present.
func extractSymbol(m types.RawMessage) (fragment, bool) {
	match := cashtag.FindStringSubmatch(m.Text)
	if match == nil {
		return fragment{}, false
	}
	return fragment{symbol: match[1]}, true
}

func extractMarketCap(m types.RawMessage) (fragment, bool) {
	v, ok := parseShorthandMoney(mcPattern, m.Text)
	if !ok {
		return fragment{}, false
	}
	return fragment{marketCapUSD: &v}, true
}

func extractLiquidity(m types.RawMessage) (fragment, bool) {
	v, ok := parseShorthandMoney(liqPattern, m.Text)
	if !ok {
		return fragment{}, false
	}
	return fragment{liquidityUSD: &v}, true
}

func extractBuySize(m types.RawMessage) (fragment, bool) {
	match := buyPattern.FindStringSubmatch(m.Text)
	if match == nil {
		return fragment{}, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(match[1], ",", ""))
	if err != nil {
		return fragment{}, false
	}
	v, _ := d.Float64()
	return fragment{buySOL: &v}, true
}

func extractCallersSubs(m types.RawMessage) (fragment, bool) {
	var frag fragment
	found := false

	if match := callerPat.FindStringSubmatch(m.Text); match != nil {
		if n, err := strconv.Atoi(strings.ReplaceAll(match[1], ",", "")); err == nil {
			frag.callers = &n
			found = true
		}
	}
	if match := subsPat.FindStringSubmatch(m.Text); match != nil {
		if n, err := strconv.Atoi(strings.ReplaceAll(match[1], ",", "")); err == nil {
			frag.subs = &n
			found = true
		}
	}
	return frag, found
}

// extractTags assigns categorical confirmation tags based on source kind
// and message content. The momentum-tracker's 2x/3x confirmation is the
// only tag that can establish a cohort start (TagCohortConfirm).
func extractTags(m types.RawMessage) (fragment, bool) {
	var tags []types.SignalTag

	if m.SourceKind == types.KindMomentumFeed && momentumPat.MatchString(m.Text) {
		tags = append(tags, types.TagMomentumSpike, types.TagCohortConfirm)
	}
	if whalePat.MatchString(m.Text) {
		tags = append(tags, types.TagWhaleBuy)
	}
	if largeBuyPat.MatchString(m.Text) {
		tags = append(tags, types.TagLargeBuy)
	}
	if trendingPat.MatchString(m.Text) {
		tags = append(tags, types.TagEarlyTrending)
	}
	if m.SourceKind == types.KindHotlistFeed && top5HotPat.MatchString(m.Text) {
		tags = append(tags, types.TagTop5Hotlist)
	}

	if len(tags) == 0 {
		return fragment{}, false
	}
	return fragment{tags: tags}, true
}

// parseShorthandMoney parses a "$1.2M", "40,000", "100K"-style numeric
// field using exact decimal arithmetic so boundary comparisons (30k/40k/
// 100k/120k/1M thresholds) never suffer float round-off.
func parseShorthandMoney(re *regexp.Regexp, text string) (float64, bool) {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}

	numStr := strings.ReplaceAll(match[1], ",", "")
	d, err := decimal.NewFromString(numStr)
	if err != nil {
		return 0, false
	}

	if len(match) > 2 {
		switch strings.ToUpper(match[2]) {
		case "K":
			d = d.Mul(decimal.NewFromInt(1_000))
		case "M":
			d = d.Mul(decimal.NewFromInt(1_000_000))
		case "B":
			d = d.Mul(decimal.NewFromInt(1_000_000_000))
		}
	}

	v, _ := d.Float64()
	return v, true
}
