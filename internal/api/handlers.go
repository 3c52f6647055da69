package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"solalert/internal/config"
	"solalert/internal/metrics"
	"solalert/pkg/types"
)

// Registry is the subscriber registry's read side, for /api/stats's
// subscriber counts.
type Registry interface {
	Subscribers() []types.SubscriberRecord
}

// Handlers holds every read-API handler's dependencies.
type Handlers struct {
	cache    *cache
	registry Registry
	logCfg   config.EventLogConfig
	logger   *slog.Logger
}

// NewHandlers wires the handlers. registry may be nil if fan-out is
// disabled; subscriber counts then report zero.
func NewHandlers(cache *cache, registry Registry, logCfg config.EventLogConfig, logger *slog.Logger) *Handlers {
	return &Handlers{
		cache:    cache,
		registry: registry,
		logCfg:   logCfg,
		logger:   logger.With("component", "api-handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// headers are already written at this point; nothing left to do
		// but let the client see a truncated body.
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Status: status})
}

// writeLogParseError implements §6/§7's "500 on internal parse failure of
// the log (never hidden — operators must see it)": any handler whose
// cache.get() call fails surfaces the failure directly instead of
// serving stale or empty data.
func (h *Handlers) writeLogParseError(w http.ResponseWriter, err error) {
	h.logger.Error("durable log unreadable or corrupt", "error", err)
	writeError(w, http.StatusInternalServerError, "durable log is unreadable or corrupt: "+err.Error())
}

// HandleRecent implements GET /api/alerts/recent?limit=N&tier=T&dedupe=bool.
func (h *Handlers) HandleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	dedupe := true
	if raw := q.Get("dedupe"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dedupe must be a boolean")
			return
		}
		dedupe = b
	}

	var tierFilter *types.Tier
	if raw := q.Get("tier"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 3 {
			writeError(w, http.StatusBadRequest, "tier must be 1, 2, or 3")
			return
		}
		t := types.Tier(n)
		tierFilter = &t
	}

	all, err := h.cache.get()
	if err != nil {
		h.writeLogParseError(w, err)
		return
	}
	sorted := sortedNewestFirst(all)

	if tierFilter != nil {
		filtered := sorted[:0:0]
		for _, rec := range sorted {
			if rec.Tier == *tierFilter {
				filtered = append(filtered, rec)
			}
		}
		sorted = filtered
	}

	if dedupe {
		sorted = dedupeByToken(sorted)
	}

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	writeJSON(w, http.StatusOK, RecentResponse{
		Alerts:         sorted,
		Count:          len(sorted),
		TotalInStorage: len(all),
		Timestamp:      time.Now().UTC(),
	})
}

// HandleStats implements GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	all, err := h.cache.get()
	if err != nil {
		h.writeLogParseError(w, err)
		return
	}
	now := time.Now().UTC()

	byTier := map[string]int{}
	last24h, last7d := 0, 0
	for _, rec := range all {
		byTier[rec.Tier.String()]++
		age := now.Sub(rec.Timestamp.UTC())
		if age <= 24*time.Hour {
			last24h++
		}
		if age <= 7*24*time.Hour {
			last7d++
		}
	}

	subsByKind := map[string]int{}
	subsTotal := 0
	if h.registry != nil {
		for _, s := range h.registry.Subscribers() {
			subsTotal++
			subsByKind[string(s.Kind)]++
		}
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Total:             len(all),
		ByTier:            byTier,
		Last24h:           last24h,
		Last7d:            last7d,
		Subscribers:       subsTotal,
		SubscribersByKind: subsByKind,
		Timestamp:         now,
	})
}

// HandleTiers implements GET /api/alerts/tiers.
func (h *Handlers) HandleTiers(w http.ResponseWriter, r *http.Request) {
	recs, err := h.cache.get()
	if err != nil {
		h.writeLogParseError(w, err)
		return
	}
	all := sortedNewestFirst(recs)

	buckets := map[types.Tier][]types.AlertRecord{}
	for _, rec := range all {
		buckets[rec.Tier] = append(buckets[rec.Tier], rec)
	}

	tiers := make([]TierBucket, 0, 3)
	for _, tier := range []types.Tier{types.Tier1, types.Tier2, types.Tier3} {
		recs := buckets[tier]
		recent := recs
		if len(recent) > 3 {
			recent = recent[:3]
		}
		tiers = append(tiers, TierBucket{
			Tier:   tier.String(),
			Count:  len(recs),
			Recent: recent,
		})
	}

	writeJSON(w, http.StatusOK, TiersResponse{Tiers: tiers, Timestamp: time.Now().UTC()})
}

// HandleDailyStats implements GET /api/alerts/stats/daily?days=D.
func (h *Handlers) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	all, err := h.cache.get()
	if err != nil {
		h.writeLogParseError(w, err)
		return
	}
	now := time.Now().UTC()

	buckets := make(map[string]*DailyBucket, days)
	order := make([]string, days)
	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		order[i] = date
		buckets[date] = &DailyBucket{Date: date, ByTier: map[string]int{}}
	}

	for _, rec := range all {
		date := rec.Timestamp.UTC().Format("2006-01-02")
		b, ok := buckets[date]
		if !ok {
			continue
		}
		b.Total++
		b.ByTier[rec.Tier.String()]++
	}

	out := make([]DailyBucket, len(order))
	for i, date := range order {
		out[i] = *buckets[date]
	}

	writeJSON(w, http.StatusOK, DailyStatsResponse{Days: out, Timestamp: now})
}

// HandleHealth implements GET /api/health: presence of each backing file
// plus a summary of the latest record and the operator-visible counters
// spec §7 requires be surfaced here.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	all, err := h.cache.get()
	if err != nil {
		h.writeLogParseError(w, err)
		return
	}
	sorted := sortedNewestFirst(all)

	var latest *types.AlertRecord
	if len(sorted) > 0 {
		rec := sorted[0]
		latest = &rec
	}

	files := map[string]bool{
		"log":          fileExists(h.logCfg.Path),
		"backup_dir":   fileExists(h.logCfg.BackupDir),
		"emergency":    fileExists(h.logCfg.EmergencyPath),
		"lock":         fileExists(h.logCfg.LockPath),
	}

	snap := metrics.ReadSnapshot()
	counters := map[string]float64{
		"dedupe_suppressed":      snap.DedupeSuppressed,
		"durable_write_retries":  snap.DurableWriteRetries,
		"durable_write_failures": snap.DurableWriteFailures,
		"mirror_failures":        snap.MirrorFailures,
		"dropped_deliveries":     snap.DroppedDeliveries,
		"dropped_stale_events":   snap.DroppedStaleEvents,
	}

	status := "ok"
	if !files["log"] || snap.DurableWriteFailures > 0 {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       status,
		Files:        files,
		LatestRecord: latest,
		TotalRecords: len(all),
		Counters:     counters,
		Timestamp:    time.Now().UTC(),
	})
}

// HandleCacheRefresh implements GET /api/cache/refresh.
func (h *Handlers) HandleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	h.cache.invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// sortedNewestFirst returns a copy of recs ordered by Timestamp
// descending, per §4.7's "newest-first" contract.
func sortedNewestFirst(recs []types.AlertRecord) []types.AlertRecord {
	out := make([]types.AlertRecord, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// dedupeByToken keeps only the first (i.e. most recent, given
// newest-first input) record per token.
func dedupeByToken(recs []types.AlertRecord) []types.AlertRecord {
	seen := make(map[string]bool, len(recs))
	out := recs[:0:0]
	for _, rec := range recs {
		if seen[rec.Token] {
			continue
		}
		seen[rec.Token] = true
		out = append(out, rec)
	}
	return out
}
