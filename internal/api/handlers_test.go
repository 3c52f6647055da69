package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"solalert/internal/config"
	"solalert/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rec(id, token string, tier types.Tier, ts time.Time) types.AlertRecord {
	return types.AlertRecord{ID: id, Token: token, Tier: tier, Timestamp: ts}
}

// writeTestLog writes records to a fresh temp file in cache.go's
// logDocument shape and returns its path.
func writeTestLog(t *testing.T, records []types.AlertRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.json")
	doc := logDocument{Alerts: records, LastUpdated: time.Now()}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal test log: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test log: %v", err)
	}
	return path
}

func newTestHandlers(t *testing.T, records []types.AlertRecord) *Handlers {
	path := writeTestLog(t, records)
	c := newCache(path, 5*time.Second)
	return NewHandlers(c, nil, config.EventLogConfig{}, discardLogger())
}

func TestHandleRecentDedupeKeepsNewestPerToken(t *testing.T) {
	now := time.Now()
	h := newTestHandlers(t, []types.AlertRecord{
		rec("A_1", "FOO", types.Tier2, now.Add(-time.Minute)),
		rec("A_2", "FOO", types.Tier1, now),
		rec("B_1", "BAR", types.Tier3, now.Add(-2*time.Minute)),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/recent", nil)
	w := httptest.NewRecorder()
	h.HandleRecent(w, req)

	var resp RecentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2 (one per token)", resp.Count)
	}
	if resp.Alerts[0].ID != "A_2" {
		t.Errorf("first alert id = %q, want A_2 (newest FOO record)", resp.Alerts[0].ID)
	}
}

func TestHandleRecentRejectsMalformedLimit(t *testing.T) {
	h := newTestHandlers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/alerts/recent?limit=notanumber", nil)
	w := httptest.NewRecorder()
	h.HandleRecent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleRecentTierFilter(t *testing.T) {
	now := time.Now()
	h := newTestHandlers(t, []types.AlertRecord{
		rec("A_1", "FOO", types.Tier1, now),
		rec("B_1", "BAR", types.Tier2, now.Add(-time.Minute)),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/recent?tier=2&dedupe=false", nil)
	w := httptest.NewRecorder()
	h.HandleRecent(w, req)

	var resp RecentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || resp.Alerts[0].ID != "B_1" {
		t.Fatalf("expected only B_1 to match tier=2, got %+v", resp.Alerts)
	}
}

func TestHandleStatsCountsByTierAndWindow(t *testing.T) {
	now := time.Now()
	h := newTestHandlers(t, []types.AlertRecord{
		rec("A_1", "FOO", types.Tier1, now.Add(-time.Hour)),
		rec("B_1", "BAR", types.Tier1, now.Add(-48*time.Hour)),
		rec("C_1", "BAZ", types.Tier3, now.Add(-10*24*time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	h.HandleStats(w, req)

	var resp StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if resp.Last24h != 1 {
		t.Errorf("last24h = %d, want 1", resp.Last24h)
	}
	if resp.Last7d != 2 {
		t.Errorf("last7d = %d, want 2", resp.Last7d)
	}
	if resp.ByTier["tier1"] != 2 {
		t.Errorf("tier1 count = %d, want 2", resp.ByTier["tier1"])
	}
}

func TestHandleCacheRefreshInvalidatesImmediately(t *testing.T) {
	h := newTestHandlers(t, []types.AlertRecord{rec("A_1", "FOO", types.Tier1, time.Now())})
	if _, err := h.cache.get(); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/cache/refresh", nil)
	w := httptest.NewRecorder()
	h.HandleCacheRefresh(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !h.cache.builtAt.IsZero() {
		t.Error("cache build time not cleared by refresh; next read would not reload")
	}
}

func TestHandleRecentReturns500OnCorruptLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("write corrupt test log: %v", err)
	}
	c := newCache(path, 5*time.Second)
	h := NewHandlers(c, nil, config.EventLogConfig{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/recent", nil)
	w := httptest.NewRecorder()
	h.HandleRecent(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for a corrupt log file", w.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("resp.Status = %d, want 500", resp.Status)
	}
}
