package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"solalert/internal/config"
	"solalert/internal/metrics"
	"solalert/pkg/types"
)

// RemoteMirror is the best-effort committer that pushes appended records
// to an external content-addressed store. It serializes its own pushes on
// a dedicated task, coalesces bursts, and retries with backoff; failure
// never blocks the local write path.
//
// Grounded on exchange/ws.go's reconnect-backoff loop (the retry shape)
// and risk/manager.go's channel-drain-then-process idiom, repurposed here
// for coalescing rather than replacement: pending pushes accumulate in a
// slice until either CoalesceCount records or CoalesceDelay elapses,
// whichever comes first, then ship as one mirror cycle.
type RemoteMirror struct {
	cfg    config.MirrorConfig
	http   *resty.Client
	logger *slog.Logger

	pending chan types.AlertRecord
	failed  atomic64

	done chan struct{}
}

// atomic64 is a tiny counter; avoids pulling sync/atomic's typed wrapper
// into this file's public surface for a single internal use.
type atomic64 struct {
	mu sync.Mutex
	n  int64
}

func (a *atomic64) inc() {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

func (a *atomic64) load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

// NewRemoteMirror builds a mirror client. Run must be started on its own
// goroutine for pushes to actually ship.
func NewRemoteMirror(cfg config.MirrorConfig, logger *slog.Logger) *RemoteMirror {
	http := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	if cfg.Token != "" {
		http.SetAuthToken(cfg.Token)
	}

	return &RemoteMirror{
		cfg:     cfg,
		http:    http,
		logger:  logger.With("component", "mirror"),
		pending: make(chan types.AlertRecord, 256),
		done:    make(chan struct{}),
	}
}

// Push hands a newly-appended record to the mirror. Non-blocking: a full
// pending queue drops the record with a counted warning rather than
// stalling the event log's writer.
func (m *RemoteMirror) Push(rec types.AlertRecord) {
	if !m.cfg.Enabled {
		return
	}
	select {
	case m.pending <- rec:
	default:
		m.failed.inc()
		metrics.MirrorFailures.Inc()
		m.logger.Warn("mirror push queue full, dropping record", "id", rec.ID)
	}
}

// Run coalesces and ships pending pushes until ctx is cancelled. Exactly
// one instance should run per Mirror.
func (m *RemoteMirror) Run(ctx context.Context) {
	defer close(m.done)
	if !m.cfg.Enabled {
		<-ctx.Done()
		return
	}

	var batch []types.AlertRecord
	timer := time.NewTimer(m.cfg.CoalesceDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.ship(ctx, batch)
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec := <-m.pending:
			batch = append(batch, rec)
			if len(batch) >= m.cfg.CoalesceCount {
				flush()
				resetTimer(timer, m.cfg.CoalesceDelay)
			}
		case <-timer.C:
			flush()
			resetTimer(timer, m.cfg.CoalesceDelay)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// ship pushes one coalesced batch. Resty's own retry policy (cfg.RetryCount,
// exponential backoff) covers transient failures; a final failure is
// surfaced as a counted metric, never propagated — mirror failure must
// never block local acceptance.
func (m *RemoteMirror) ship(ctx context.Context, batch []types.AlertRecord) {
	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"records": batch}).
		Post("/alerts/batch")
	if err != nil || resp.IsError() {
		m.failed.inc()
		metrics.MirrorFailures.Inc()
		m.logger.Error("mirror push failed", "count", len(batch), "error", err)
		return
	}
}

// Reconcile is called once at startup: it asks the mirror for every
// record id it holds, diffs against nothing (the caller diffs against its
// own local ids), and returns full records for any the mirror has that
// the caller should pull in. A disabled mirror returns an empty result;
// an unreachable one counts a mirror failure and returns an error, which
// Open logs before continuing with the local log only — reconciliation is
// best-effort.
func (m *RemoteMirror) Reconcile() ([]types.AlertRecord, error) {
	if !m.cfg.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	var result struct {
		Records []types.AlertRecord `json:"records"`
	}
	resp, err := m.http.R().SetContext(ctx).SetResult(&result).Get("/alerts/all")
	if err != nil {
		metrics.MirrorFailures.Inc()
		return nil, fmt.Errorf("mirror reconcile: %w", err)
	}
	if resp.IsError() {
		metrics.MirrorFailures.Inc()
		return nil, fmt.Errorf("mirror reconcile: status %d", resp.StatusCode())
	}
	return result.Records, nil
}

// FailureCount reports how many pushes have failed or been dropped.
func (m *RemoteMirror) FailureCount() int64 {
	return m.failed.load()
}

// Stopped returns a channel that is closed once Run exits. To stop the
// mirror, the caller cancels the context passed to Run and then waits on
// this channel, bounded by its own shutdown timeout.
func (m *RemoteMirror) Stopped() <-chan struct{} {
	return m.done
}
