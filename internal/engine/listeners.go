package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// ErrDeviceNotFound indicates the device id is not present on the hub.
var ErrDeviceNotFound = errors.New("engine: device not found")

// listenerBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts losing cycles rather than stalling the pipeline.
const listenerBuffer = 16

// listeners fans change sets and notifications out to in-process
// subscribers alongside the external sinks (bus, WebSocket, journal).
type listeners struct {
	mu      sync.Mutex
	nextID  int
	changes map[int]chan ajax.ChangeSet
	notes   map[int]chan ajax.NotificationEvent
}

func newListeners() *listeners {
	return &listeners{
		changes: make(map[int]chan ajax.ChangeSet),
		notes:   make(map[int]chan ajax.NotificationEvent),
	}
}

// Subscribe registers an in-process listener for debounced change cycles.
// The cancel func unregisters and closes the channel; it is safe to call
// more than once.
//
// Returns:
//   - <-chan ajax.ChangeSet: One value per flushed change cycle
//   - func(): Cancel; releases the subscription
func (e *Engine) Subscribe() (<-chan ajax.ChangeSet, func()) {
	e.listeners.mu.Lock()
	defer e.listeners.mu.Unlock()

	id := e.listeners.nextID
	e.listeners.nextID++
	ch := make(chan ajax.ChangeSet, listenerBuffer)
	e.listeners.changes[id] = ch

	// Whoever removes the entry closes the channel. Cancel after closeAll,
	// or a second cancel, finds the entry gone and does nothing.
	cancel := func() {
		e.listeners.mu.Lock()
		defer e.listeners.mu.Unlock()
		if _, ok := e.listeners.changes[id]; ok {
			delete(e.listeners.changes, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscribeNotifications registers an in-process listener for security
// notification events. Same contract as Subscribe.
func (e *Engine) SubscribeNotifications() (<-chan ajax.NotificationEvent, func()) {
	e.listeners.mu.Lock()
	defer e.listeners.mu.Unlock()

	id := e.listeners.nextID
	e.listeners.nextID++
	ch := make(chan ajax.NotificationEvent, listenerBuffer)
	e.listeners.notes[id] = ch

	cancel := func() {
		e.listeners.mu.Lock()
		defer e.listeners.mu.Unlock()
		if _, ok := e.listeners.notes[id]; ok {
			delete(e.listeners.notes, id)
			close(ch)
		}
	}
	return ch, cancel
}

// fanOutChangeSet delivers one cycle to every subscriber, dropping for
// subscribers whose buffer is full.
func (l *listeners) fanOutChangeSet(cs ajax.ChangeSet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.changes {
		select {
		case ch <- cs:
		default:
		}
	}
}

// fanOutNotification delivers one notification to every subscriber,
// dropping for subscribers whose buffer is full.
func (l *listeners) fanOutNotification(n ajax.NotificationEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.notes {
		select {
		case ch <- n:
		default:
		}
	}
}

// closeAll unregisters and closes every subscriber channel. Called during
// shutdown after the debouncer has flushed.
func (l *listeners) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ch := range l.changes {
		delete(l.changes, id)
		close(ch)
	}
	for id, ch := range l.notes {
		delete(l.notes, id)
		close(ch)
	}
}

// HubState returns a deep copy of the hub's current state.
func (e *Engine) HubState(hubID string) (*ajax.HubState, error) {
	return e.store.Snapshot(hubID)
}

// Device returns a deep copy of one device record.
func (e *Engine) Device(hubID, deviceID string) (*ajax.DeviceRecord, error) {
	snap, err := e.store.Snapshot(hubID)
	if err != nil {
		return nil, err
	}
	dev, ok := snap.Devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s on hub %s", ErrDeviceNotFound, deviceID, hubID)
	}
	return dev, nil
}
