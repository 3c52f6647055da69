package fanout

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solalert/internal/config"
	"solalert/pkg/types"
)

func TestNewHTTPRegistryFetchesInitialSubscribers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"subscriberId": "s1", "webhookUrl": "http://example.com/hook", "kind": "user", "tierFilter": []int{1, 2}},
			{"subscriberId": "s2", "webhookUrl": "http://example.com/hook2", "kind": "group", "tierFilter": []int{1}},
		})
	}))
	defer srv.Close()

	r := NewHTTPRegistry(config.FanoutConfig{RegistryURL: srv.URL}, discardLogger())
	subs := r.Subscribers()
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2", len(subs))
	}
	if subs[1].Kind != types.SubscriberGroup {
		t.Errorf("subs[1].Kind = %v, want SubscriberGroup", subs[1].Kind)
	}
	if !subs[0].WantsTier(types.Tier2) {
		t.Error("s1 should want tier2 per its filter")
	}
}

func TestRefreshKeepsStaleListOnFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode([]map[string]any{
				{"subscriberId": "s1", "webhookUrl": "http://example.com/hook", "kind": "user", "tierFilter": []int{1}},
			})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPRegistry(config.FanoutConfig{RegistryURL: srv.URL}, discardLogger())
	if len(r.Subscribers()) != 1 {
		t.Fatalf("expected initial fetch to populate one subscriber")
	}

	r.refresh()
	if len(r.Subscribers()) != 1 {
		t.Error("a failed refresh must keep the previous subscriber list")
	}
}

func TestRemoveDropsLocallyAndNotifiesRegistry(t *testing.T) {
	var deleted string
	mux := http.NewServeMux()
	mux.HandleFunc("/subscribers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"subscriberId": "s1", "webhookUrl": "http://example.com/hook", "kind": "user", "tierFilter": []int{1}},
		})
	})
	mux.HandleFunc("/subscribers/s1", func(w http.ResponseWriter, r *http.Request) {
		deleted = "s1"
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewHTTPRegistry(config.FanoutConfig{RegistryURL: srv.URL}, discardLogger())
	r.Remove("s1")

	time.Sleep(10 * time.Millisecond)
	if len(r.Subscribers()) != 0 {
		t.Error("expected removed subscriber to be gone from the local cache immediately")
	}
	if deleted != "s1" {
		t.Error("expected registry DELETE to be called for s1")
	}
}
