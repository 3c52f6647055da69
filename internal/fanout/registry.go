package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"solalert/internal/config"
	"solalert/pkg/types"
)

const registryRefreshInterval = 30 * time.Second

// registryEntry is the wire shape of one subscriber as served by the
// external chat-bot subscription UI's registry endpoint.
type registryEntry struct {
	SubscriberID string `json:"subscriberId"`
	WebhookURL   string `json:"webhookUrl"`
	Kind         string `json:"kind"`
	TierFilter   []int  `json:"tierFilter"`
}

// HTTPRegistry is a read-through cache over the external subscriber
// registry: this repo never creates or mutates a subscription, it only
// polls the registry for the current subscriber set and asks it to drop
// permanently-unreachable entries.
type HTTPRegistry struct {
	http   *resty.Client
	logger *slog.Logger

	mu   sync.RWMutex
	subs []types.SubscriberRecord
}

// NewHTTPRegistry builds a registry client and performs an initial
// synchronous fetch so the fan-out adapter has a subscriber list from the
// moment it starts delivering.
func NewHTTPRegistry(cfg config.FanoutConfig, logger *slog.Logger) *HTTPRegistry {
	r := &HTTPRegistry{
		http:   resty.New().SetBaseURL(cfg.RegistryURL).SetTimeout(5 * time.Second),
		logger: logger.With("component", "subscriber-registry"),
	}
	r.refresh()
	return r
}

// Run polls the registry every registryRefreshInterval until ctx is
// cancelled. Subscription creation/deletion from the chat-bot UI is only
// visible to this repo through this periodic poll.
func (r *HTTPRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(registryRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

func (r *HTTPRegistry) refresh() {
	var entries []registryEntry
	resp, err := r.http.R().SetResult(&entries).Get("/subscribers")
	if err != nil || resp.IsError() {
		r.logger.Warn("subscriber registry refresh failed, keeping stale list", "error", err)
		return
	}

	subs := make([]types.SubscriberRecord, 0, len(entries))
	for _, e := range entries {
		filter := make(map[types.Tier]bool, len(e.TierFilter))
		for _, t := range e.TierFilter {
			filter[types.Tier(t)] = true
		}
		kind := types.SubscriberUser
		if e.Kind == "group" {
			kind = types.SubscriberGroup
		}
		subs = append(subs, types.SubscriberRecord{
			SubscriberID: e.SubscriberID,
			WebhookURL:   e.WebhookURL,
			Kind:         kind,
			TierFilter:   filter,
		})
	}

	r.mu.Lock()
	r.subs = subs
	r.mu.Unlock()
}

// Subscribers returns the most recently polled subscriber set.
func (r *HTTPRegistry) Subscribers() []types.SubscriberRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.SubscriberRecord, len(r.subs))
	copy(out, r.subs)
	return out
}

// Remove drops a subscriber from the local cache immediately (so the
// very next delivery cycle stops retrying it) and asks the external
// registry to do the same; the registry is the source of truth so a
// failed DELETE here just means it reappears on the next refresh.
func (r *HTTPRegistry) Remove(subscriberID string) {
	r.mu.Lock()
	filtered := r.subs[:0]
	for _, s := range r.subs {
		if s.SubscriberID != subscriberID {
			filtered = append(filtered, s)
		}
	}
	r.subs = filtered
	r.mu.Unlock()

	if _, err := r.http.R().Delete("/subscribers/" + subscriberID); err != nil {
		r.logger.Warn("failed to notify registry of permanent removal", "subscriber", subscriberID, "error", err)
	}
}
