package state

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Store.
type Options struct {
	// ProtectionWindow is how long poll-sourced hub state is discarded
	// after a push-sourced hub state change. Defaults to 5s.
	ProtectionWindow time.Duration

	// ProvisionalGrace is how many metadata cycles a provisional record
	// survives unconfirmed before eviction. Defaults to 2.
	ProvisionalGrace int

	Logger Logger
}

// ApplyResult reports what one Apply call did.
type ApplyResult struct {
	// Changed indicates the tree differs from before the call.
	Changed bool

	// Protected indicates a poll-sourced hub update was discarded inside
	// the push-priority window.
	Protected bool

	// Created and Removed list device ids added or evicted by the call.
	Created []string
	Removed []string
}

// hubEntry serializes all mutations for one hub.
type hubEntry struct {
	mu             sync.Mutex
	state          *ajax.HubState
	protectedUntil time.Time
	lastApplied    time.Time

	// misses counts consecutive metadata cycles each provisional device
	// has gone unconfirmed.
	misses map[string]int
}

// Store is the exclusive owner of the device tree.
//
// Thread Safety:
//   - All public methods are thread-safe. Mutations serialize per hub;
//     reads return deep copies, never live references.
type Store struct {
	mu   sync.RWMutex // guards the hubs map itself
	hubs map[string]*hubEntry

	protection time.Duration
	grace      int
	logger     Logger
	now        func() time.Time
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	if opts.ProtectionWindow <= 0 {
		opts.ProtectionWindow = 5 * time.Second
	}
	if opts.ProvisionalGrace <= 0 {
		opts.ProvisionalGrace = 2
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Store{
		hubs:       make(map[string]*hubEntry),
		protection: opts.ProtectionWindow,
		grace:      opts.ProvisionalGrace,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// entry returns the hub's entry, creating it when absent.
func (s *Store) entry(hubID string) *hubEntry {
	s.mu.RLock()
	e, ok := s.hubs[hubID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.hubs[hubID]; ok {
		return e
	}
	e = &hubEntry{
		state: &ajax.HubState{
			ID:      hubID,
			Devices: make(map[string]*ajax.DeviceRecord),
			Groups:  make(map[string]*ajax.GroupState),
			Rooms:   make(map[string]ajax.Room),
			Users:   make(map[string]ajax.User),
		},
		misses: make(map[string]int),
	}
	s.hubs[hubID] = e
	s.logger.Info("hub added to device tree", "hub_id", hubID)
	return e
}

// EnsureHub registers a hub discovered via account listing, recording its
// display name. It reports whether the hub was newly created.
func (s *Store) EnsureHub(hubID, name string) bool {
	s.mu.RLock()
	_, existed := s.hubs[hubID]
	s.mu.RUnlock()

	e := s.entry(hubID)
	e.mu.Lock()
	if name != "" {
		e.state.Name = name
	}
	e.mu.Unlock()
	return !existed
}

// Apply merges one admitted event into the tree.
func (s *Store) Apply(ev ajax.UpdateEvent) (ApplyResult, error) {
	if ev.HubID == "" {
		return ApplyResult{}, fmt.Errorf("%w: event without hub id", ErrHubNotFound)
	}

	e := s.entry(ev.HubID)
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		res ApplyResult
		err error
	)
	switch ev.Kind {
	case ajax.KindMetadata:
		res, err = s.applyMetadata(e, ev)
	case ajax.KindState:
		switch ev.EntityType {
		case ajax.EntityHub:
			res = s.applyHubState(e, ev)
		case ajax.EntityGroup:
			res = s.applyGroupState(e, ev)
		case ajax.EntityDevice:
			res = s.applyDeviceState(e, ev)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownEntity, ev.EntityType)
		}
	default:
		err = fmt.Errorf("%w: kind %q", ErrUnknownEntity, ev.Kind)
	}
	if err != nil {
		return ApplyResult{}, err
	}

	e.lastApplied = s.now()
	if res.Changed {
		// Fresh data clears last-known-good marking.
		e.state.Stale = false
	}
	return res, nil
}

// applyHubState merges hub-level fields. Poll-sourced updates inside the
// push-priority window are discarded wholesale: the poll response was read
// before the change the window protects.
func (s *Store) applyHubState(e *hubEntry, ev ajax.UpdateEvent) ApplyResult {
	now := s.now()
	if ev.Source == ajax.SourcePoll && now.Before(e.protectedUntil) {
		s.logger.Debug("poll update discarded in protection window", "hub_id", ev.HubID)
		return ApplyResult{Protected: true}
	}

	var changed bool
	if mode, ok := ev.Fields.String(ajax.FieldArmedMode); ok {
		if m := ajax.ArmedMode(mode); m != e.state.ArmedMode {
			e.state.ArmedMode = m
			changed = true
		}
	}
	if online, ok := ev.Fields.Online(); ok && online != e.state.Online {
		e.state.Online = online
		changed = true
	}
	if fw, ok := ev.Fields.String(ajax.FieldFirmware); ok && fw != e.state.FirmwareVersion {
		e.state.FirmwareVersion = fw
		changed = true
	}

	if ev.OccurredAt.After(e.state.LastSeen) {
		e.state.LastSeen = ev.OccurredAt
	}

	if changed && ev.Source != ajax.SourcePoll {
		e.protectedUntil = now.Add(s.protection)
	}
	return ApplyResult{Changed: changed}
}

// applyGroupState merges a group's armed mode. A group cannot arm while
// the hub reports malfunction.
func (s *Store) applyGroupState(e *hubEntry, ev ajax.UpdateEvent) ApplyResult {
	mode, ok := ev.Fields.String(ajax.FieldArmedMode)
	if !ok {
		return ApplyResult{}
	}
	next := ajax.ArmedMode(mode)

	if e.state.ArmedMode == ajax.ModeMalfunction && next.IsArmed() {
		s.logger.Warn("group arm rejected while hub in malfunction",
			"hub_id", ev.HubID, "group_id", ev.EntityID)
		return ApplyResult{}
	}

	g, exists := e.state.Groups[ev.EntityID]
	if !exists {
		e.state.Groups[ev.EntityID] = &ajax.GroupState{ID: ev.EntityID, ArmedMode: next}
		return ApplyResult{Changed: true, Created: []string{ev.EntityID}}
	}
	if g.ArmedMode == next {
		return ApplyResult{}
	}
	g.ArmedMode = next
	return ApplyResult{Changed: true}
}

// applyDeviceState merges device fields, creating the record on first
// sighting. Push and queue sightings create provisional records pending
// metadata confirmation; poll sightings create confirmed ones.
func (s *Store) applyDeviceState(e *hubEntry, ev ajax.UpdateEvent) ApplyResult {
	rec, exists := e.state.Devices[ev.EntityID]

	// The device type is immutable. A conflicting reassignment destroys
	// the record; the fields of the old variant mean nothing under the new.
	if exists && ev.DeviceType != "" && rec.Type != "" && ev.DeviceType != rec.Type {
		s.logger.Warn("device type reassigned, recreating record",
			"hub_id", ev.HubID,
			"device_id", ev.EntityID,
			"old", rec.Type,
			"new", ev.DeviceType,
		)
		delete(e.state.Devices, ev.EntityID)
		exists = false
	}

	if !exists {
		now := s.now()
		rec = &ajax.DeviceRecord{
			ID:          ev.EntityID,
			Type:        ev.DeviceType,
			Fields:      ev.Fields.Clone(),
			Provisional: ev.Source != ajax.SourcePoll,
			FirstSeen:   now,
			UpdatedAt:   now,
		}
		e.state.Devices[ev.EntityID] = rec
		return ApplyResult{Changed: true, Created: []string{ev.EntityID}}
	}

	if rec.Type == "" && ev.DeviceType != "" {
		rec.Type = ev.DeviceType
	}

	var changed bool
	for k, v := range ev.Fields {
		if !reflect.DeepEqual(rec.Fields[k], v) {
			if rec.Fields == nil {
				rec.Fields = ajax.Fields{}
			}
			rec.Fields[k] = v
			changed = true
		}
	}
	if changed {
		rec.UpdatedAt = s.now()
	}
	return ApplyResult{Changed: changed}
}

// applyMetadata replaces rooms, users, and groups wholesale and reconciles
// the device list against the authoritative snapshot.
func (s *Store) applyMetadata(e *hubEntry, ev ajax.UpdateEvent) (ApplyResult, error) {
	snap := ev.Metadata
	if snap == nil {
		return ApplyResult{}, fmt.Errorf("%w: metadata event without snapshot", ErrUnknownEntity)
	}

	var res ApplyResult

	rooms := make(map[string]ajax.Room, len(snap.Rooms))
	for _, r := range snap.Rooms {
		rooms[r.ID] = r
	}
	users := make(map[string]ajax.User, len(snap.Users))
	for _, u := range snap.Users {
		users[u.ID] = u
	}
	groups := make(map[string]*ajax.GroupState, len(snap.Groups))
	for _, g := range snap.Groups {
		gc := g
		groups[g.ID] = &gc
	}

	if !reflect.DeepEqual(e.state.Rooms, rooms) {
		e.state.Rooms = rooms
		res.Changed = true
	}
	if !reflect.DeepEqual(e.state.Users, users) {
		e.state.Users = users
		res.Changed = true
	}
	if !reflect.DeepEqual(e.state.Groups, groups) {
		e.state.Groups = groups
		res.Changed = true
	}

	confirmed := make(map[string]ajax.DeviceMeta, len(snap.Devices))
	for _, d := range snap.Devices {
		confirmed[d.ID] = d
	}

	now := s.now()
	for _, meta := range snap.Devices {
		rec, exists := e.state.Devices[meta.ID]

		if exists && meta.Type != "" && rec.Type != "" && meta.Type != rec.Type {
			delete(e.state.Devices, meta.ID)
			exists = false
			s.logger.Warn("device type reassigned by metadata, recreating record",
				"hub_id", ev.HubID, "device_id", meta.ID)
		}

		if !exists {
			e.state.Devices[meta.ID] = &ajax.DeviceRecord{
				ID:        meta.ID,
				Name:      meta.Name,
				Type:      meta.Type,
				RoomID:    meta.RoomID,
				Fields:    ajax.Fields{},
				FirstSeen: now,
				UpdatedAt: now,
			}
			res.Changed = true
			res.Created = append(res.Created, meta.ID)
			continue
		}

		if rec.Provisional || rec.Name != meta.Name || rec.RoomID != meta.RoomID {
			rec.Provisional = false
			rec.Name = meta.Name
			rec.RoomID = meta.RoomID
			if rec.Type == "" {
				rec.Type = meta.Type
			}
			rec.UpdatedAt = now
			res.Changed = true
		}
		delete(e.misses, meta.ID)
	}

	for id, rec := range e.state.Devices {
		if _, ok := confirmed[id]; ok {
			continue
		}
		if rec.Provisional {
			e.misses[id]++
			if e.misses[id] < s.grace {
				continue
			}
			s.logger.Info("provisional device evicted, never confirmed",
				"hub_id", ev.HubID, "device_id", id)
		} else {
			s.logger.Info("device removed from authoritative list",
				"hub_id", ev.HubID, "device_id", id)
		}
		delete(e.state.Devices, id)
		delete(e.misses, id)
		res.Changed = true
		res.Removed = append(res.Removed, id)
	}

	sort.Strings(res.Created)
	sort.Strings(res.Removed)
	return res, nil
}

// Snapshot returns a deep copy of one hub's state.
func (s *Store) Snapshot(hubID string) (*ajax.HubState, error) {
	s.mu.RLock()
	e, ok := s.hubs[hubID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHubNotFound, hubID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.DeepCopy(), nil
}

// SnapshotAll returns deep copies of every hub, ordered by hub id.
func (s *Store) SnapshotAll() []*ajax.HubState {
	ids := s.HubIDs()
	out := make([]*ajax.HubState, 0, len(ids))
	for _, id := range ids {
		if snap, err := s.Snapshot(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// HubIDs returns the known hub ids in sorted order.
func (s *Store) HubIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.hubs))
	for id := range s.hubs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetStale flags or clears a hub's last-known-good marking. Entities are
// never removed on staleness. It reports whether the flag changed.
func (s *Store) SetStale(hubID string, stale bool) bool {
	s.mu.RLock()
	e, ok := s.hubs[hubID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Stale == stale {
		return false
	}
	e.state.Stale = stale
	return true
}

// LastApplied returns when the hub last accepted any event.
func (s *Store) LastApplied(hubID string) (time.Time, bool) {
	s.mu.RLock()
	e, ok := s.hubs[hubID]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastApplied, true
}

// Protected reports whether the hub is inside the push-priority window.
func (s *Store) Protected(hubID string) bool {
	s.mu.RLock()
	e, ok := s.hubs[hubID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return s.now().Before(e.protectedUntil)
}
