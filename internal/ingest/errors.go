package ingest

import "fmt"

// AuthError marks an ingest failure as the fatal, non-retryable class
// spec §4.1 calls out separately from ordinary transport hiccups: a
// source rejected our credentials rather than merely being unreachable.
// Session implementations return this (never retried) instead of looping
// the usual reconnect backoff; Manager surfaces it on Fatal() so the
// engine can trigger exit code 3 per spec §6.
type AuthError struct {
	SourceID string
	Status   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ingest: source %q rejected credentials (status %d)", e.SourceID, e.Status)
}

// isAuthStatus reports whether an HTTP/WS handshake status code indicates
// a credential rejection rather than a transient network or server error.
func isAuthStatus(status int) bool {
	return status == 401 || status == 403
}
