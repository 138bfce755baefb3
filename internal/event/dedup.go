package event

import (
	"sync"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// Deduplicator discards events already seen within a trailing window.
//
// Multiple transports legitimately report the same physical state change
// (an arm event arrives via the stream and again via the next poll);
// without this cache downstream listeners would double-fire.
//
// Thread Safety:
//   - Admit is safe for concurrent use from multiple goroutines.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewDeduplicator creates a Deduplicator with the given trailing window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Admit reports whether the event should enter the pipeline. A key seen
// within the window is discarded; otherwise it is recorded and admitted.
// Expired entries are purged in place on each admission check, which
// bounds the cache without a sweeper task.
func (d *Deduplicator) Admit(ev ajax.UpdateEvent) bool {
	return d.AdmitKey(ev.DedupKey())
}

// AdmitKey is Admit for callers that derive their own cache key, such as
// notification delivery. Updates and notifications share one cache; their
// key schemes are disjoint by construction.
func (d *Deduplicator) AdmitKey(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return false
	}
	d.seen[key] = now
	return true
}

// Len returns the number of live cache entries.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
