package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"solalert/pkg/types"
)

const defaultPollPeriod = 10 * time.Second

// pollMessage is the JSON shape expected from a polled REST source: a
// simple list of chat-style text lines with an id for dedup across polls.
type pollMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// pollSession is a chat source reached by periodically polling an HTTP
// endpoint rather than holding a socket open. Grounded on
// market/scanner.go's Run/scan poll-ticker loop.
type pollSession struct {
	id     string
	kind   types.SourceKind
	url    string
	token  string
	period time.Duration
	client *resty.Client
	out    chan types.RawMessage
	logger *slog.Logger

	lastSeen map[string]bool
}

func newPollSession(id string, kind types.SourceKind, url, token string, period time.Duration, logger *slog.Logger) *pollSession {
	if period <= 0 {
		period = defaultPollPeriod
	}
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if token != "" {
		client.SetAuthToken(token)
	}

	return &pollSession{
		id:       id,
		kind:     kind,
		url:      url,
		token:    token,
		period:   period,
		client:   client,
		out:      make(chan types.RawMessage, bufferSize),
		logger:   logger,
		lastSeen: make(map[string]bool),
	}
}

func (s *pollSession) ID() string                       { return s.id }
func (s *pollSession) Messages() <-chan types.RawMessage { return s.out }

func (s *pollSession) Run(ctx context.Context) error {
	if err := s.poll(ctx); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return err
		}
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				var authErr *AuthError
				if errors.As(err, &authErr) {
					// Per spec §4.1, authentication errors are fatal and
					// surfaced, not retried on the next tick.
					return err
				}
			}
		}
	}
}

// poll fetches one page of messages. It returns a non-nil error only for
// an *AuthError (401/403): every other failure (network hiccup, non-auth
// error status) is logged and absorbed, left to the next tick's retry.
func (s *pollSession) poll(ctx context.Context) error {
	var messages []pollMessage
	resp, err := s.client.R().SetContext(ctx).SetResult(&messages).Get("")
	if err != nil {
		s.logger.Warn("poll failed", "error", err)
		return nil
	}
	if resp.IsError() {
		if isAuthStatus(resp.StatusCode()) {
			authErr := &AuthError{SourceID: s.id, Status: resp.StatusCode()}
			s.logger.Error("poll authentication failed, unrecoverable", "status", resp.StatusCode())
			return authErr
		}
		s.logger.Warn("poll returned error status", "status", resp.StatusCode())
		return nil
	}

	now := time.Now()
	for _, m := range messages {
		if m.ID != "" && s.lastSeen[m.ID] {
			continue
		}
		if m.ID != "" {
			s.lastSeen[m.ID] = true
		}
		enqueue(s.out, types.RawMessage{
			SourceID:   s.id,
			SourceKind: s.kind,
			ReceivedAt: now,
			Text:       m.Text,
		}, s.logger)
	}

	if len(s.lastSeen) > 10_000 {
		s.lastSeen = make(map[string]bool, len(messages))
	}
	return nil
}
