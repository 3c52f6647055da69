// Package parser turns a RawMessage into a ParsedEvent. Parsing is a pure
// function of the message: parse(m) depends only on m, so re-parsing the
// same message twice always yields the same result (or the same miss).
//
// Grounded on the teacher's cascading-fallback style in
// market/scanner.go's convertToMarketInfo field mapping: an ordered list
// of small functions, each trying to extract one fragment of the result,
// first match wins. Each extractor is a pure function over the message,
// mirroring the "no inheritance, pure functions merged left-to-right"
// rewriting note.
package parser

import (
	"fmt"
	"strings"
	"time"

	"solalert/pkg/types"
)

// ErrNoSignal is returned when a message carries nothing the pipeline can
// use: no contract address or hotlist sentinel, and not both a symbol and
// a recognizable tag from which a sentinel could be built.
var ErrNoSignal = fmt.Errorf("parser: no usable signal in message")

// fragment is a partial parse result produced by one extractor. Extractors
// that find nothing for their concern leave the corresponding fields zero.
type fragment struct {
	contractAddress string
	symbol          string
	marketCapUSD    *float64
	liquidityUSD    *float64
	buySOL          *float64
	callers         *int
	subs            *int
	tags            []types.SignalTag
}

// extractor pulls one fragment of structured data out of a message. The
// bool reports whether it found anything at all.
type extractor func(types.RawMessage) (fragment, bool)

// cascade is the ordered list of extractors run against every message.
// Order matters only where two extractors could both produce the same
// field — the first non-empty value wins, later extractors fill gaps.
var cascade = []extractor{
	extractHotlistSentinel,
	extractContractAddress,
	extractSymbol,
	extractMarketCap,
	extractLiquidity,
	extractBuySize,
	extractCallersSubs,
	extractTags,
}

// Parse converts one RawMessage into a ParsedEvent. Returns ErrNoSignal if
// no extractor found anything usable — the caller drops the event and
// increments its own parse-miss counter per source.
func Parse(m types.RawMessage) (*types.ParsedEvent, error) {
	var merged fragment
	found := false

	for _, ex := range cascade {
		frag, ok := ex(m)
		if !ok {
			continue
		}
		found = true
		merged = mergeFragment(merged, frag)
	}

	if !found || (merged.contractAddress == "" && len(merged.tags) == 0) {
		return nil, ErrNoSignal
	}

	if merged.contractAddress == "" && merged.symbol == "" {
		return nil, ErrNoSignal
	}
	if merged.contractAddress == "" {
		merged.contractAddress = types.HotlistPrefix + strings.ToUpper(merged.symbol)
	}

	evt := &types.ParsedEvent{
		SourceID:        m.SourceID,
		SourceKind:      m.SourceKind,
		ObservedAt:      time.Now(),
		WallClock:       m.ReceivedAt,
		ContractAddress: merged.contractAddress,
		Symbol:          strings.ToUpper(merged.symbol),
		MarketCapUSD:    merged.marketCapUSD,
		LiquidityUSD:    merged.liquidityUSD,
		BuySOL:          merged.buySOL,
		Callers:         merged.callers,
		Subs:            merged.subs,
		SignalTags:      merged.tags,
	}
	return evt, nil
}

// mergeFragment folds src into dst, left-to-right: a field already set in
// dst is never overwritten, matching the "first match wins" cascade rule.
func mergeFragment(dst, src fragment) fragment {
	if dst.contractAddress == "" {
		dst.contractAddress = src.contractAddress
	}
	if dst.symbol == "" {
		dst.symbol = src.symbol
	}
	if dst.marketCapUSD == nil {
		dst.marketCapUSD = src.marketCapUSD
	}
	if dst.liquidityUSD == nil {
		dst.liquidityUSD = src.liquidityUSD
	}
	if dst.buySOL == nil {
		dst.buySOL = src.buySOL
	}
	if dst.callers == nil {
		dst.callers = src.callers
	}
	if dst.subs == nil {
		dst.subs = src.subs
	}
	dst.tags = append(dst.tags, src.tags...)
	return dst
}
