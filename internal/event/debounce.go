package event

import (
	"sort"
	"sync"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// Debouncer coalesces admitted events into notification cycles.
//
// Each observed change restarts a trailing timer; when the timer elapses
// with no further changes, one ChangeSet fires carrying every entity id
// accumulated since the previous cycle. A burst of N changes inside the
// window yields exactly one cycle; an isolated change yields one cycle
// after the full window.
//
// Thread Safety:
//   - Observe and Close are safe for concurrent use.
type Debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	fire     func(ajax.ChangeSet)
	timer    *time.Timer
	hubs     map[string]struct{}
	entities map[string]struct{}
	closed   bool
}

// NewDebouncer creates a Debouncer that calls fire with each completed
// cycle. fire runs on the timer goroutine and must not block for long.
func NewDebouncer(window time.Duration, fire func(ajax.ChangeSet)) *Debouncer {
	return &Debouncer{
		window:   window,
		fire:     fire,
		hubs:     make(map[string]struct{}),
		entities: make(map[string]struct{}),
	}
}

// Observe records a changed entity and restarts the trailing timer.
// Observations after Close are dropped.
func (d *Debouncer) Observe(hubID, entityID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	d.hubs[hubID] = struct{}{}
	d.entities[entityID] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires the pending cycle, if any.
func (d *Debouncer) flush() {
	cs, ok := d.take()
	if ok {
		d.fire(cs)
	}
}

// take drains the accumulated sets into a ChangeSet under the lock.
func (d *Debouncer) take() (ajax.ChangeSet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.entities) == 0 {
		return ajax.ChangeSet{}, false
	}

	cs := ajax.ChangeSet{
		HubIDs:    make([]string, 0, len(d.hubs)),
		EntityIDs: make([]string, 0, len(d.entities)),
		FiredAt:   time.Now().UTC(),
	}
	for id := range d.hubs {
		cs.HubIDs = append(cs.HubIDs, id)
	}
	for id := range d.entities {
		cs.EntityIDs = append(cs.EntityIDs, id)
	}
	sort.Strings(cs.HubIDs)
	sort.Strings(cs.EntityIDs)

	d.hubs = make(map[string]struct{})
	d.entities = make(map[string]struct{})
	return cs, true
}

// Close stops the timer and flushes any pending cycle so a change observed
// just before shutdown still reaches listeners.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.flush()
}
