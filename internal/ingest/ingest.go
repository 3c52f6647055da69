// Package ingest manages one session per configured chat source: dialing
// (WebSocket or HTTP polling), auto-reconnect with exponential backoff, and
// delivery of RawMessage values onto a bounded per-source channel.
//
// Each session owns a single output channel sized 1024. Unlike the
// teacher's WebSocket feeds, which drop the newest message on a full
// channel, overflow here drops the single oldest buffered message before
// enqueueing the new one — the chat-alert pipeline cares more about
// reacting to the freshest signal than preserving strict arrival order
// during a burst.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"solalert/internal/config"
	"solalert/pkg/types"
)

const bufferSize = 1024

// Session is one running source connection. Manager owns the set of
// sessions configured at startup.
type Session interface {
	// Run blocks until ctx is cancelled, reconnecting internally on
	// transport failure (retried with backoff, never returned). It returns
	// a non-nil error only for ctx.Err() or an *AuthError: per spec §4.1,
	// an authentication rejection is fatal and surfaced rather than
	// retried, and Manager.Run forwards it on Fatal().
	Run(ctx context.Context) error
	// Messages returns the session's bounded output channel.
	Messages() <-chan types.RawMessage
	// ID returns the configured source id.
	ID() string
}

// Manager owns one Session per configured source and runs them concurrently.
type Manager struct {
	sessions []Session
	logger   *slog.Logger
	fatal    chan error
}

// NewManager builds sessions for every configured source. An unsupported
// transport is a configuration error, returned immediately rather than
// discovered at runtime.
func NewManager(cfgs []config.SourceConfig, logger *slog.Logger) (*Manager, error) {
	m := &Manager{logger: logger.With("component", "ingest"), fatal: make(chan error, 1)}
	for _, c := range cfgs {
		kind := types.SourceKind(c.Kind)
		sessLogger := logger.With("component", "ingest", "source", c.ID)
		switch c.Transport {
		case "ws":
			m.sessions = append(m.sessions, newWSSession(c.ID, kind, c.URL, c.Token, sessLogger))
		case "poll":
			m.sessions = append(m.sessions, newPollSession(c.ID, kind, c.URL, c.Token, c.PollPeriod, sessLogger))
		default:
			return nil, fmt.Errorf("ingest: source %q has unsupported transport %q", c.ID, c.Transport)
		}
	}
	return m, nil
}

// Run starts every session and blocks until ctx is cancelled or all
// sessions exit. Each session runs on its own goroutine per spec §5's
// "one task per configured source" layout. A session reporting an
// *AuthError is forwarded on Fatal() instead of just logged, since spec
// §4.1 classifies credential rejection as fatal rather than retryable.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.sessions {
		wg.Add(1)
		go func(s Session) {
			defer wg.Done()
			err := s.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			var authErr *AuthError
			if errors.As(err, &authErr) {
				m.logger.Error("source authentication failed, unrecoverable", "source", s.ID(), "error", err)
				select {
				case m.fatal <- err:
				default:
				}
				return
			}
			m.logger.Error("session exited unexpectedly", "source", s.ID(), "error", err)
		}(s)
	}
	wg.Wait()
}

// Fatal reports an *AuthError from any session — per spec §6 the only
// ingest failure mode that forces process exit (code 3) rather than
// retrying forever. The engine selects on this alongside its shutdown
// signal.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Channels returns each source's bounded output channel, keyed by source id.
func (m *Manager) Channels() map[string]<-chan types.RawMessage {
	out := make(map[string]<-chan types.RawMessage, len(m.sessions))
	for _, s := range m.sessions {
		out[s.ID()] = s.Messages()
	}
	return out
}

// enqueue delivers msg onto ch without blocking. If the channel is full,
// the oldest buffered message is dropped first, with a warning logged,
// then msg is enqueued.
func enqueue(ch chan types.RawMessage, msg types.RawMessage, logger *slog.Logger) {
	select {
	case ch <- msg:
		return
	default:
	}

	select {
	case <-ch:
		logger.Warn("source channel full, dropped oldest message")
	default:
	}

	select {
	case ch <- msg:
	default:
		logger.Warn("source channel still full after eviction, dropping new message")
	}
}
