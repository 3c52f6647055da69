package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solalert/pkg/types"
)

func TestAuthErrorFromHandshakeClassifiesRejectionStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusBadGateway, false},
		{http.StatusNotFound, false},
	}
	for _, c := range cases {
		resp := &http.Response{StatusCode: c.status}
		got := authErrorFromHandshake("src1", resp) != nil
		if got != c.want {
			t.Errorf("status %d: authErrorFromHandshake present = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestAuthErrorFromHandshakeNilResponseIsTransient(t *testing.T) {
	if authErrorFromHandshake("src1", nil) != nil {
		t.Error("expected nil *AuthError when no handshake response was returned")
	}
}

func TestPollSessionClassifiesAuthStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newPollSession("src1", "buy_feed", srv.URL, "", time.Millisecond, discardLogger())
	err := s.poll(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("poll() error = %v, want *AuthError", err)
	}
	if authErr.SourceID != "src1" || authErr.Status != http.StatusUnauthorized {
		t.Errorf("authErr = %+v, want SourceID=src1 Status=401", authErr)
	}
}

func TestPollSessionTransientErrorStatusIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newPollSession("src1", "buy_feed", srv.URL, "", time.Millisecond, discardLogger())
	if err := s.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v, want nil for a non-auth error status", err)
	}
}

// fatalSession is a minimal Session that immediately reports an AuthError,
// for exercising Manager.Run's fatal-forwarding path without a real
// transport.
type fatalSession struct {
	id string
	ch chan types.RawMessage
}

func (f fatalSession) ID() string                       { return f.id }
func (f fatalSession) Messages() <-chan types.RawMessage { return f.ch }
func (f fatalSession) Run(ctx context.Context) error {
	return &AuthError{SourceID: f.id, Status: http.StatusForbidden}
}

func TestManagerForwardsAuthErrorOnFatal(t *testing.T) {
	m := &Manager{
		logger:   discardLogger(),
		fatal:    make(chan error, 1),
		sessions: []Session{fatalSession{id: "src1", ch: make(chan types.RawMessage)}},
	}

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	select {
	case err := <-m.Fatal():
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("Fatal() error = %v, want *AuthError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Manager.Fatal() to report the auth error")
	}
	<-done
}
