package eventlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"solalert/internal/config"
	"solalert/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.EventLogConfig {
	t.Helper()
	dir := t.TempDir()
	return config.EventLogConfig{
		Path:           filepath.Join(dir, "alerts.json"),
		BackupDir:      filepath.Join(dir, "backups"),
		BackupCount:    3,
		EmergencyPath:  filepath.Join(dir, "emergency.jsonl"),
		LockPath:       filepath.Join(dir, "alerts.lock"),
		WriteRetries:   3,
		WriteRetryBase: time.Millisecond,
		WriteRetryMax:  5 * time.Millisecond,
	}
}

func mustOpen(t *testing.T, cfg config.EventLogConfig) *Log {
	t.Helper()
	log, err := Open(cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestAppendThenReopenPreservesRecords(t *testing.T) {
	cfg := testConfig(t)
	log := mustOpen(t, cfg)

	rec := types.AlertRecord{ID: "FOO_20260729", Token: "FOO", Tier: types.Tier1, Timestamp: time.Now().UTC()}
	if err := log.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !log.HasID("FOO_20260729") {
		t.Fatal("expected HasID to report the just-appended record")
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	recs, _ := reopened.Snapshot()
	if len(recs) != 1 || recs[0].ID != "FOO_20260729" {
		t.Fatalf("snapshot after reopen = %+v, want one record with id FOO_20260729", recs)
	}
}

func TestOpenTwiceFailsOnLock(t *testing.T) {
	cfg := testConfig(t)
	log := mustOpen(t, cfg)

	if _, err := Open(cfg, nil, discardLogger()); err == nil {
		t.Fatal("expected second Open against the same lock path to fail")
	}
	_ = log
}

func TestUpdateCallersSubsMatchesByTokenAndTier(t *testing.T) {
	cfg := testConfig(t)
	log := mustOpen(t, cfg)

	now := time.Now().UTC()
	if err := log.Append(context.Background(), types.AlertRecord{ID: "A", Token: "foo", Tier: types.Tier2, Timestamp: now}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	tier := types.Tier2
	if err := log.UpdateCallersSubs("FOO", &tier, 42, 1000); err != nil {
		t.Fatalf("UpdateCallersSubs: %v", err)
	}

	recs, _ := log.Snapshot()
	if recs[0].Callers == nil || *recs[0].Callers != 42 {
		t.Errorf("callers = %v, want 42", recs[0].Callers)
	}
	if recs[0].Subs == nil || *recs[0].Subs != 1000 {
		t.Errorf("subs = %v, want 1000", recs[0].Subs)
	}
}

func TestRecoverEmergencySidecarMergesOnReopen(t *testing.T) {
	cfg := testConfig(t)
	log := mustOpen(t, cfg)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sidecar := `{"id":"BAR_1","token":"BAR","tier":2,"timestamp":"2026-07-29T00:00:00Z"}` + "\n"
	if err := os.WriteFile(cfg.EmergencyPath, []byte(sidecar), 0o644); err != nil {
		t.Fatalf("seed sidecar: %v", err)
	}

	reopened, err := Open(cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if !reopened.HasID("BAR_1") {
		t.Fatal("expected sidecar record to be merged in on reopen")
	}
	if _, err := os.Stat(cfg.EmergencyPath); !os.IsNotExist(err) {
		t.Error("expected emergency sidecar to be removed after successful recovery")
	}
}
