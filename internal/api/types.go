// Package api implements the read-only HTTP API (§4.7): a set of
// GET-only JSON endpoints over the durable event log file, plus a small
// freshness cache so a burst of requests doesn't each pay a full re-read
// and parse of the log.
//
// Grounded on internal/api/server.go's net/http.ServeMux + CORS-checked
// handlers idiom, with the teacher's WebSocket dashboard push (stream.go,
// events.go) dropped: this API is pure request/response polling, nothing
// in spec.md calls for a server-push channel to the read side.
package api

import (
	"time"

	"solalert/pkg/types"
)

// RecentResponse is GET /api/alerts/recent's body.
type RecentResponse struct {
	Alerts         []types.AlertRecord `json:"alerts"`
	Count          int                 `json:"count"`
	TotalInStorage int                 `json:"total_in_storage"`
	Timestamp      time.Time           `json:"timestamp"`
}

// StatsResponse is GET /api/stats's body.
type StatsResponse struct {
	Total            int            `json:"total"`
	ByTier           map[string]int `json:"by_tier"`
	Last24h          int            `json:"last_24h"`
	Last7d           int            `json:"last_7d"`
	Subscribers      int            `json:"subscribers"`
	SubscribersByKind map[string]int `json:"subscribers_by_kind"`
	Timestamp        time.Time      `json:"timestamp"`
}

// TierBucket is one tier's entry in GET /api/alerts/tiers.
type TierBucket struct {
	Tier   string               `json:"tier"`
	Count  int                  `json:"count"`
	Recent []types.AlertRecord  `json:"recent"`
}

// TiersResponse is GET /api/alerts/tiers's body.
type TiersResponse struct {
	Tiers     []TierBucket `json:"tiers"`
	Timestamp time.Time    `json:"timestamp"`
}

// DailyBucket is one UTC day's entry in GET /api/alerts/stats/daily.
type DailyBucket struct {
	Date   string         `json:"date"` // YYYY-MM-DD, UTC
	Total  int            `json:"total"`
	ByTier map[string]int `json:"by_tier"`
}

// DailyStatsResponse is GET /api/alerts/stats/daily's body.
type DailyStatsResponse struct {
	Days      []DailyBucket `json:"days"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthResponse is GET /api/health's body.
type HealthResponse struct {
	Status          string            `json:"status"`
	Files           map[string]bool   `json:"files"`
	LatestRecord    *types.AlertRecord `json:"latest_record,omitempty"`
	TotalRecords    int               `json:"total_records"`
	Counters        map[string]float64 `json:"counters"`
	Timestamp       time.Time         `json:"timestamp"`
}

// errorResponse is the shape of every non-2xx response.
type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}
