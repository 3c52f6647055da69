// Package fanout implements the Subscriber Fan-out Adapter (§4.8): it
// reads the external subscriber registry, filters by tier, and delivers a
// freshly-appended AlertRecord to each interested subscriber with
// independent per-recipient retry. Tier-1 records additionally post to a
// configured broadcast channel.
//
// Grounded on internal/api/stream.go's Hub — a buffered channel consumed
// by a dedicated goroutine that never lets a slow/failed recipient block
// the producer — repurposed from WebSocket broadcast push to per-recipient
// webhook delivery, and internal/api/events.go's typed-event-wrapper
// convention for the payload shape handed to subscribers.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"solalert/internal/config"
	"solalert/internal/metrics"
	"solalert/pkg/types"
)

// deliverQueueSize mirrors spec §5's Correlator→Fan-out channel buffer
// (256): overflow drops with a warning and a counted metric rather than
// back-pressuring the emitter.
const deliverQueueSize = 256

// Registry is the external subscriber registry. The core only reads it
// and prunes permanently-unreachable entries; creation/mutation by the
// chat-bot subscription UI is out of scope.
type Registry interface {
	Subscribers() []types.SubscriberRecord
	Remove(subscriberID string)
}

// payload is the wire shape posted to each subscriber's webhook.
type payload struct {
	Type  string           `json:"type"`
	Alert types.AlertRecord `json:"alert"`
}

// Adapter is the fan-out task: one buffered inbox, drained by a single
// goroutine so recipient retries never serialize against the emitter.
type Adapter struct {
	cfg      config.FanoutConfig
	registry Registry
	http     *resty.Client
	logger   *slog.Logger
	dryRun   bool

	inbox   chan types.AlertRecord
	dropped int64
	mu      sync.Mutex
}

// New builds a fan-out adapter. dryRun, when true, logs what would have
// been delivered instead of making outbound HTTP calls — grounded on the
// teacher's cfg.DryRun gating exchange.Client's mutating calls.
func New(cfg config.FanoutConfig, registry Registry, dryRun bool, logger *slog.Logger) *Adapter {
	http := resty.New().
		SetTimeout(cfg.DeliveryTimeout).
		SetRetryCount(0) // retries are per-recipient and explicit below, not resty's blanket retry

	return &Adapter{
		cfg:      cfg,
		registry: registry,
		http:     http,
		logger:   logger.With("component", "fanout"),
		dryRun:   dryRun,
		inbox:    make(chan types.AlertRecord, deliverQueueSize),
	}
}

// Deliver hands a freshly-appended record to the fan-out task. Per
// §4.8's contract it is non-blocking and never propagates an error back
// to the emitter: a full inbox just drops the record with a counted
// warning.
func (a *Adapter) Deliver(rec types.AlertRecord) {
	select {
	case a.inbox <- rec:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		metrics.DroppedDeliveries.Inc()
		a.logger.Warn("fanout inbox full, dropping delivery", "id", rec.ID)
	}
}

// DroppedCount reports how many records were dropped due to inbox
// overflow; each drop also increments metrics.DroppedDeliveries.
func (a *Adapter) DroppedCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Run drains the inbox until ctx is cancelled. Exactly one instance
// should run per Adapter, per spec §5's "Correlator→Fan-out" single-task
// layout.
func (a *Adapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-a.inbox:
			a.deliverOne(ctx, rec)
		}
	}
}

func (a *Adapter) deliverOne(ctx context.Context, rec types.AlertRecord) {
	for _, sub := range a.registry.Subscribers() {
		if !sub.WantsTier(rec.Tier) {
			continue
		}
		a.sendWithRetry(ctx, sub, rec)
	}

	if rec.Tier == types.Tier1 && a.cfg.BroadcastURL != "" {
		a.postBroadcast(ctx, rec)
	}
}

// sendWithRetry delivers to one subscriber with up to cfg.RetryCount
// additional attempts spaced cfg.RetryDelay apart. A permanent
// "unreachable" failure (401, 403, 404 or 410 — see isPermanentFailure —
// i.e. the endpoint itself rejects the request rather than a transient
// network/5xx hiccup) removes the
// subscriber from the registry; a transient failure is logged and
// dropped without pruning.
func (a *Adapter) sendWithRetry(ctx context.Context, sub types.SubscriberRecord, rec types.AlertRecord) {
	if a.dryRun {
		a.logger.Info("dry-run: would deliver alert", "subscriber", sub.SubscriberID, "id", rec.ID)
		return
	}

	body := payload{Type: "alert", Alert: rec}

	var lastErr error
	for attempt := 0; attempt <= a.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.RetryDelay):
			}
		}

		resp, err := a.http.R().SetContext(ctx).SetBody(body).Post(sub.WebhookURL)
		if err == nil && !resp.IsError() {
			return
		}
		lastErr = err
		if err == nil && isPermanentFailure(resp.StatusCode()) {
			a.logger.Warn("subscriber unreachable, removing from registry", "subscriber", sub.SubscriberID, "status", resp.StatusCode())
			a.registry.Remove(sub.SubscriberID)
			return
		}
	}
	a.logger.Warn("delivery failed after retries", "subscriber", sub.SubscriberID, "id", rec.ID, "error", lastErr)
}

func (a *Adapter) postBroadcast(ctx context.Context, rec types.AlertRecord) {
	if a.dryRun {
		a.logger.Info("dry-run: would broadcast tier-1 alert", "id", rec.ID)
		return
	}
	body := payload{Type: "broadcast", Alert: rec}
	if _, err := a.http.R().SetContext(ctx).SetBody(body).Post(a.cfg.BroadcastURL); err != nil {
		a.logger.Warn("tier-1 broadcast post failed", "id", rec.ID, "error", err)
	}
}

// isPermanentFailure classifies a webhook's response status as a
// permanent "unreachable" class failure rather than a transient one:
// client errors (404 gone, 410, 401/403 revoked) are permanent; 5xx and
// 429 are transient and retried/dropped without pruning.
func isPermanentFailure(status int) bool {
	switch status {
	case 404, 410, 401, 403:
		return true
	default:
		return false
	}
}
