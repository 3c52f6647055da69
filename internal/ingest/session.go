package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"solalert/pkg/types"
)

const (
	wsPingInterval     = 45 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMinReconnectWait = 2 * time.Second  // per spec §4.1, vs. teacher's 1s floor
	wsMaxReconnectWait = 60 * time.Second // per spec §4.1, vs. teacher's 30s cap
	wsWriteTimeout     = 10 * time.Second
)

// wsSession is a chat source reached over a long-lived WebSocket
// connection. Grounded on exchange/ws.go's WSFeed: dial, ping loop,
// read-deadline-based staleness detection, exponential-backoff reconnect.
type wsSession struct {
	id     string
	kind   types.SourceKind
	url    string
	token  string
	out    chan types.RawMessage
	logger *slog.Logger
}

func newWSSession(id string, kind types.SourceKind, url, token string, logger *slog.Logger) *wsSession {
	return &wsSession{
		id:     id,
		kind:   kind,
		url:    url,
		token:  token,
		out:    make(chan types.RawMessage, bufferSize),
		logger: logger,
	}
}

func (s *wsSession) ID() string                       { return s.id }
func (s *wsSession) Messages() <-chan types.RawMessage { return s.out }

func (s *wsSession) Run(ctx context.Context) error {
	backoff := wsMinReconnectWait

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			// Per spec §4.1, authentication errors are fatal and surfaced,
			// not retried with the transport-hiccup backoff below.
			return err
		}

		s.logger.Warn("source disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (s *wsSession) connectAndRead(ctx context.Context) error {
	header := map[string][]string{}
	if s.token != "" {
		header["Authorization"] = []string{"Bearer " + s.token}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		if authResp := authErrorFromHandshake(s.id, resp); authResp != nil {
			return authResp
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.logger.Info("source connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		msg := types.RawMessage{
			SourceID:   s.id,
			SourceKind: s.kind,
			ReceivedAt: time.Now(),
			Text:       string(data),
		}
		enqueue(s.out, msg, s.logger)
	}
}

// authErrorFromHandshake classifies a failed WebSocket handshake's response
// status, when one was returned at all (a 401/403 rejection during the
// upgrade still yields an *http.Response even though the dial itself
// errored). Returns nil for a transient failure (no response, or a status
// that isn't a credential rejection), in which case the caller retries.
func authErrorFromHandshake(sourceID string, resp *http.Response) *AuthError {
	if resp == nil {
		return nil
	}
	if !isAuthStatus(resp.StatusCode) {
		return nil
	}
	return &AuthError{SourceID: sourceID, Status: resp.StatusCode}
}

func (s *wsSession) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
