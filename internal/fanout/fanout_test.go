package fanout

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"solalert/internal/config"
	"solalert/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRegistry struct {
	mu       sync.Mutex
	subs     []types.SubscriberRecord
	removed  []string
}

func (f *fakeRegistry) Subscribers() []types.SubscriberRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.SubscriberRecord, len(f.subs))
	copy(out, f.subs)
	return out
}

func (f *fakeRegistry) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

func tierFilter(tiers ...types.Tier) map[types.Tier]bool {
	m := make(map[types.Tier]bool, len(tiers))
	for _, t := range tiers {
		m[t] = true
	}
	return m
}

func TestDeliverDropsWhenInboxFull(t *testing.T) {
	reg := &fakeRegistry{}
	a := New(config.FanoutConfig{DeliveryTimeout: time.Second}, reg, true, discardLogger())

	for i := 0; i < deliverQueueSize; i++ {
		a.Deliver(types.AlertRecord{ID: "x"})
	}
	a.Deliver(types.AlertRecord{ID: "overflow"})

	if a.DroppedCount() != 1 {
		t.Fatalf("DroppedCount = %d, want 1", a.DroppedCount())
	}
}

func TestRunDeliversOnlyToSubscribersWantingTier(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := &fakeRegistry{subs: []types.SubscriberRecord{
		{SubscriberID: "s1", WebhookURL: srv.URL, TierFilter: tierFilter(types.Tier1)},
		{SubscriberID: "s2", WebhookURL: srv.URL, TierFilter: tierFilter(types.Tier3)},
	}}
	a := New(config.FanoutConfig{DeliveryTimeout: time.Second, RetryCount: 0}, reg, false, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	a.Deliver(types.AlertRecord{ID: "A", Tier: types.Tier1})
	time.Sleep(30 * time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("hits = %d, want 1 (only s1 wants tier1)", hits)
	}
}

func TestSendWithRetryPrunesPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := &fakeRegistry{subs: []types.SubscriberRecord{
		{SubscriberID: "gone", WebhookURL: srv.URL, TierFilter: tierFilter(types.Tier1)},
	}}
	a := New(config.FanoutConfig{DeliveryTimeout: time.Second, RetryCount: 1, RetryDelay: time.Millisecond}, reg, false, discardLogger())

	a.sendWithRetry(context.Background(), reg.subs[0], types.AlertRecord{ID: "A", Tier: types.Tier1})

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.removed) != 1 || reg.removed[0] != "gone" {
		t.Fatalf("removed = %+v, want [gone]", reg.removed)
	}
}

func TestDryRunNeverCallsWebhook(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	reg := &fakeRegistry{subs: []types.SubscriberRecord{
		{SubscriberID: "s1", WebhookURL: srv.URL, TierFilter: tierFilter(types.Tier1)},
	}}
	a := New(config.FanoutConfig{DeliveryTimeout: time.Second}, reg, true, discardLogger())
	a.sendWithRetry(context.Background(), reg.subs[0], types.AlertRecord{ID: "A", Tier: types.Tier1})

	if called {
		t.Error("dry-run adapter must never call the subscriber webhook")
	}
}
