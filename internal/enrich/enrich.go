// Package enrich provides the live market-snapshot quote client the
// emitter uses to backfill a missing market cap at alert time.
//
// Grounded on internal/exchange/client.go's GetOrderBook: a resty client
// configured once with timeout/retry, a single typed GET, and a
// status-code check before trusting the result. The outbound rate limit
// is grounded on internal/exchange/ratelimit.go's continuously-refilling
// token bucket.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"solalert/internal/config"
)

// Client fetches a live market-cap quote for a contract from an external
// quote service. It honors a caller-supplied context deadline and never
// blocks past it.
type Client struct {
	http    *resty.Client
	limiter *tokenBucket
	logger  *slog.Logger
}

// New builds an enrichment client. cfg.Timeout and cfg.Retries bound a
// single Quote call's worst-case latency (2s timeout, 1 retry per spec
// §4.5 defaults). cfg.RateLimitBurst/RateLimitPerSec cap how many
// concurrent backfills the correlator can fire at the quote service —
// a correlator tick can touch hundreds of contracts at once.
func New(cfg config.EnrichConfig, logger *slog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(100 * time.Millisecond)

	return &Client{
		http:    http,
		limiter: newTokenBucket(cfg.RateLimitBurst, cfg.RateLimitPerSec),
		logger:  logger.With("component", "enrich"),
	}
}

type quoteResponse struct {
	MarketCapUSD float64 `json:"marketCapUsd"`
}

// Quote fetches the current market cap for contract. ok is false whenever
// the quote couldn't be obtained (timeout, non-200, malformed body); the
// caller falls back to whatever it already knows rather than treating
// this as fatal.
func (c *Client) Quote(ctx context.Context, contract string) (marketCapUSD float64, ok bool, err error) {
	if err := c.limiter.wait(ctx); err != nil {
		return 0, false, fmt.Errorf("enrich quote: rate limit wait: %w", err)
	}

	var result quoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		SetPathParam("contract", contract).
		Get("/quote/{contract}")
	if err != nil {
		return 0, false, fmt.Errorf("enrich quote: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, false, fmt.Errorf("enrich quote: status %d", resp.StatusCode())
	}
	return result.MarketCapUSD, true, nil
}
