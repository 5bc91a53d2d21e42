package tailer

import (
	"fmt"
	"sync"
	"time"
)

// DefaultDedupRetention is how long a cost-record fingerprint is remembered.
const DefaultDedupRetention = 7 * 24 * time.Hour

// Deduplicator is a bounded set of previously ingested cost-record
// fingerprints. It guarantees at-most-once ingestion per (file, timestamp,
// cost) triple within one process lifetime, including across overlapping
// scans and cursor resets. It does not survive restarts.
type Deduplicator struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
}

// NewDeduplicator creates a deduplicator with the given retention window.
func NewDeduplicator(retention time.Duration) *Deduplicator {
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	return &Deduplicator{
		seen:      make(map[string]time.Time),
		retention: retention,
	}
}

// Key derives the fingerprint for a cost record observed in a file.
func Key(fileID string, ts time.Time, costTotal float64) string {
	return fmt.Sprintf("%s|%d|%.6f", fileID, ts.UnixMilli(), costTotal)
}

// Seen reports whether the key has already been ingested.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

// Mark records the key after its record was successfully ingested.
func (d *Deduplicator) Mark(key string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = now
}

// Prune removes keys older than the retention window and returns how many
// were removed. Boundedness comes from this, not from capping insertions.
func (d *Deduplicator) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now.Add(-d.retention)
	removed := 0
	for key, added := range d.seen {
		if added.Before(cutoff) {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the current set size.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
