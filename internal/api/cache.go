package api

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"solalert/pkg/types"
)

// logDocument mirrors eventlog's on-disk document shape:
// { "alerts": [...], "last_updated": ... }.
type logDocument struct {
	Alerts      []types.AlertRecord `json:"alerts"`
	LastUpdated time.Time           `json:"last_updated"`
}

// cache holds the most recently parsed snapshot of the durable log file,
// valid for up to ttl, and invalidates early if the file's mtime moves —
// per §4.7's "5s-TTL + mtime-check" contract. It reads and parses the
// on-disk document directly rather than trusting an always-already-valid
// in-memory copy: spec §4.7/§7 require the read API to return 500 "on
// internal parse failure of the log", which is only reachable if the
// cache actually re-parses bytes from disk instead of reusing the
// writer's in-memory document (which, by construction, can never be
// invalid once loaded).
type cache struct {
	path string
	ttl  time.Duration

	mu      sync.Mutex
	records []types.AlertRecord
	mtime   time.Time
	builtAt time.Time
	err     error
}

func newCache(path string, ttl time.Duration) *cache {
	return &cache{path: path, ttl: ttl}
}

// get returns the cached record set, rebuilding it if the TTL elapsed or
// the on-disk file's mtime advanced since the last build. A non-nil error
// means the log file is unreadable or corrupt; callers must surface it as
// a 500 rather than silently serving stale or empty data.
func (c *cache) get() ([]types.AlertRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, statErr := os.Stat(c.path)
	mtimeMoved := statErr == nil && info.ModTime().After(c.mtime)
	stale := time.Since(c.builtAt) > c.ttl || mtimeMoved

	if !stale && (c.records != nil || c.err != nil) {
		return c.records, c.err
	}

	records, mtime, err := c.reload()
	c.builtAt = time.Now()
	if err != nil {
		c.err = err
		c.records = nil
		return nil, err
	}
	c.records = records
	c.mtime = mtime
	c.err = nil
	return c.records, nil
}

// reload reads and parses the log file fresh off disk. A missing file
// (the pipeline hasn't appended anything yet) is an empty log, not an
// error; any other read failure or a JSON parse failure is.
func (c *cache) reload() ([]types.AlertRecord, time.Time, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.AlertRecord{}, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("read log file: %w", err)
	}

	var doc logDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse log file: %w", err)
	}

	var mtime time.Time
	if info, err := os.Stat(c.path); err == nil {
		mtime = info.ModTime()
	}
	return doc.Alerts, mtime, nil
}

// invalidate forces the next get() to rebuild, for GET /api/cache/refresh.
func (c *cache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builtAt = time.Time{}
}
