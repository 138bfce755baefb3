package state

import (
	"errors"
	"testing"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

func newTestStore() (*Store, *time.Time) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := NewStore(Options{ProtectionWindow: 5 * time.Second, ProvisionalGrace: 2})
	s.now = func() time.Time { return now }
	return s, &now
}

func hubEvent(source ajax.Source, fields ajax.Fields) ajax.UpdateEvent {
	return ajax.UpdateEvent{
		HubID:      "h1",
		EntityID:   "h1",
		EntityType: ajax.EntityHub,
		Source:     source,
		Kind:       ajax.KindState,
		Fields:     fields,
	}
}

func deviceEvent(source ajax.Source, deviceID string, dt ajax.DeviceType, fields ajax.Fields) ajax.UpdateEvent {
	return ajax.UpdateEvent{
		HubID:      "h1",
		EntityID:   deviceID,
		EntityType: ajax.EntityDevice,
		Source:     source,
		Kind:       ajax.KindState,
		DeviceType: dt,
		Fields:     fields,
	}
}

func metadataEvent(snap *ajax.MetadataSnapshot) ajax.UpdateEvent {
	return ajax.UpdateEvent{
		HubID:      "h1",
		EntityID:   "h1",
		EntityType: ajax.EntityHub,
		Source:     ajax.SourcePoll,
		Kind:       ajax.KindMetadata,
		Metadata:   snap,
	}
}

func TestApplyHubStateMerges(t *testing.T) {
	s, _ := newTestStore()

	res, err := s.Apply(hubEvent(ajax.SourcePoll, ajax.Fields{
		ajax.FieldArmedMode: string(ajax.ModeArmed),
		ajax.FieldOnline:    true,
	}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !res.Changed {
		t.Error("first apply reported no change")
	}

	// Identical fields: no change.
	res, _ = s.Apply(hubEvent(ajax.SourcePoll, ajax.Fields{
		ajax.FieldArmedMode: string(ajax.ModeArmed),
	}))
	if res.Changed {
		t.Error("identical apply reported a change")
	}

	snap, err := s.Snapshot("h1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.ArmedMode != ajax.ModeArmed || !snap.Online {
		t.Errorf("hub = %s/online=%v, want armed/true", snap.ArmedMode, snap.Online)
	}
}

func TestProtectionWindowDiscardsPoll(t *testing.T) {
	s, now := newTestStore()

	// Stream reports arm; window opens.
	s.Apply(hubEvent(ajax.SourceStream, ajax.Fields{ajax.FieldArmedMode: string(ajax.ModeArmed)}))
	if !s.Protected("h1") {
		t.Fatal("window not open after push-sourced change")
	}

	// A poll read before the arm arrives late; it must not flap the mode.
	*now = now.Add(2 * time.Second)
	res, _ := s.Apply(hubEvent(ajax.SourcePoll, ajax.Fields{ajax.FieldArmedMode: string(ajax.ModeDisarmed)}))
	if !res.Protected || res.Changed {
		t.Errorf("result = %+v, want protected, unchanged", res)
	}

	snap, _ := s.Snapshot("h1")
	if snap.ArmedMode != ajax.ModeArmed {
		t.Errorf("armed mode = %s, want armed preserved", snap.ArmedMode)
	}

	// After the window a poll update applies normally.
	*now = now.Add(10 * time.Second)
	res, _ = s.Apply(hubEvent(ajax.SourcePoll, ajax.Fields{ajax.FieldArmedMode: string(ajax.ModeDisarmed)}))
	if res.Protected || !res.Changed {
		t.Errorf("result = %+v, want applied after window", res)
	}
}

func TestDeviceCreationBySource(t *testing.T) {
	s, _ := newTestStore()

	s.Apply(deviceEvent(ajax.SourceStream, "d1", ajax.DeviceContact, ajax.Fields{ajax.FieldOpened: true}))
	s.Apply(deviceEvent(ajax.SourcePoll, "d2", ajax.DeviceMotion, ajax.Fields{ajax.FieldMotion: false}))

	snap, _ := s.Snapshot("h1")
	if !snap.Devices["d1"].Provisional {
		t.Error("stream sighting did not create a provisional record")
	}
	if snap.Devices["d2"].Provisional {
		t.Error("poll sighting created a provisional record")
	}
}

func TestDeviceFieldMergeIsPartial(t *testing.T) {
	s, _ := newTestStore()

	s.Apply(deviceEvent(ajax.SourcePoll, "d1", ajax.DeviceContact, ajax.Fields{
		ajax.FieldOpened:  false,
		ajax.FieldBattery: 90,
	}))
	res, _ := s.Apply(deviceEvent(ajax.SourceStream, "d1", "", ajax.Fields{
		ajax.FieldOpened: true,
	}))
	if !res.Changed {
		t.Fatal("field change not reported")
	}

	snap, _ := s.Snapshot("h1")
	rec := snap.Devices["d1"]
	if opened, _ := rec.Fields.Bool(ajax.FieldOpened); !opened {
		t.Error("opened not merged")
	}
	if battery, _ := rec.Fields.Battery(); battery != 90 {
		t.Errorf("battery = %d, want 90 untouched", battery)
	}
}

func TestDeviceTypeReassignmentRecreates(t *testing.T) {
	s, _ := newTestStore()

	s.Apply(deviceEvent(ajax.SourcePoll, "d1", ajax.DeviceContact, ajax.Fields{ajax.FieldOpened: true}))
	res, _ := s.Apply(deviceEvent(ajax.SourcePoll, "d1", ajax.DeviceMotion, ajax.Fields{ajax.FieldMotion: false}))
	if !res.Changed || len(res.Created) != 1 {
		t.Fatalf("result = %+v, want recreation", res)
	}

	snap, _ := s.Snapshot("h1")
	rec := snap.Devices["d1"]
	if rec.Type != ajax.DeviceMotion {
		t.Errorf("type = %s, want motion", rec.Type)
	}
	if _, ok := rec.Fields.Bool(ajax.FieldOpened); ok {
		t.Error("old variant's fields survived recreation")
	}
}

func TestGroupArmRejectedDuringMalfunction(t *testing.T) {
	s, _ := newTestStore()

	s.Apply(hubEvent(ajax.SourceStream, ajax.Fields{ajax.FieldArmedMode: string(ajax.ModeMalfunction)}))
	res, _ := s.Apply(ajax.UpdateEvent{
		HubID:      "h1",
		EntityID:   "g1",
		EntityType: ajax.EntityGroup,
		Source:     ajax.SourceStream,
		Kind:       ajax.KindState,
		Fields:     ajax.Fields{ajax.FieldArmedMode: string(ajax.ModeArmed)},
	})
	if res.Changed {
		t.Error("group armed while hub in malfunction")
	}
}

func TestMetadataReconcilesDevices(t *testing.T) {
	s, _ := newTestStore()

	// d1 confirmed by poll, d2 provisional from stream.
	s.Apply(deviceEvent(ajax.SourcePoll, "d1", ajax.DeviceContact, ajax.Fields{ajax.FieldOpened: false}))
	s.Apply(deviceEvent(ajax.SourceStream, "d2", "", ajax.Fields{ajax.FieldMotion: true}))

	// Metadata confirms d2 and omits d1.
	res, err := s.Apply(metadataEvent(&ajax.MetadataSnapshot{
		Rooms: []ajax.Room{{ID: "r1", Name: "Hall"}},
		Devices: []ajax.DeviceMeta{
			{ID: "d2", Name: "Hall Motion", Type: ajax.DeviceMotion, RoomID: "r1"},
		},
	}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "d1" {
		t.Errorf("removed = %v, want [d1]", res.Removed)
	}

	snap, _ := s.Snapshot("h1")
	if _, ok := snap.Devices["d1"]; ok {
		t.Error("confirmed device not removed when absent from authoritative list")
	}
	d2 := snap.Devices["d2"]
	if d2 == nil || d2.Provisional {
		t.Fatalf("d2 = %+v, want promoted", d2)
	}
	if d2.Name != "Hall Motion" || d2.Type != ajax.DeviceMotion || d2.RoomID != "r1" {
		t.Errorf("d2 = %+v, want metadata attributes applied", d2)
	}
	if motion, _ := d2.Fields.Bool(ajax.FieldMotion); !motion {
		t.Error("promotion dropped live fields")
	}
	if len(snap.Rooms) != 1 {
		t.Errorf("rooms = %d, want 1", len(snap.Rooms))
	}
}

func TestProvisionalGracePeriod(t *testing.T) {
	s, _ := newTestStore()

	s.Apply(deviceEvent(ajax.SourceQueue, "ghost", "", ajax.Fields{ajax.FieldTamper: true}))

	// First unconfirmed cycle: survives.
	res, _ := s.Apply(metadataEvent(&ajax.MetadataSnapshot{}))
	if len(res.Removed) != 0 {
		t.Fatalf("removed = %v after first cycle, want none", res.Removed)
	}

	// Second unconfirmed cycle: evicted.
	res, _ = s.Apply(metadataEvent(&ajax.MetadataSnapshot{}))
	if len(res.Removed) != 1 || res.Removed[0] != "ghost" {
		t.Errorf("removed = %v after grace, want [ghost]", res.Removed)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s, _ := newTestStore()
	s.Apply(deviceEvent(ajax.SourcePoll, "d1", ajax.DeviceContact, ajax.Fields{ajax.FieldOpened: false}))

	snap, _ := s.Snapshot("h1")
	snap.Devices["d1"].Fields[ajax.FieldOpened] = true
	snap.ArmedMode = ajax.ModeArmed

	fresh, _ := s.Snapshot("h1")
	if opened, _ := fresh.Devices["d1"].Fields.Bool(ajax.FieldOpened); opened {
		t.Error("snapshot mutation leaked into the store")
	}
	if fresh.ArmedMode == ajax.ModeArmed {
		t.Error("snapshot hub mutation leaked into the store")
	}
}

func TestSnapshotUnknownHub(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.Snapshot("nope"); !errors.Is(err, ErrHubNotFound) {
		t.Errorf("Snapshot() error = %v, want ErrHubNotFound", err)
	}
}

func TestStalenessFlag(t *testing.T) {
	s, _ := newTestStore()
	s.EnsureHub("h1", "Home")

	if !s.SetStale("h1", true) {
		t.Fatal("SetStale reported no change")
	}
	snap, _ := s.Snapshot("h1")
	if !snap.Stale {
		t.Fatal("stale flag not set")
	}

	// Fresh data clears the flag.
	s.Apply(hubEvent(ajax.SourceStream, ajax.Fields{ajax.FieldArmedMode: string(ajax.ModeArmed)}))
	snap, _ = s.Snapshot("h1")
	if snap.Stale {
		t.Error("stale flag survived fresh data")
	}
}

func TestEnsureHubRecordsName(t *testing.T) {
	s, _ := newTestStore()

	if !s.EnsureHub("h1", "Home") {
		t.Error("EnsureHub did not report creation")
	}
	if s.EnsureHub("h1", "Home Renamed") {
		t.Error("EnsureHub reported creation twice")
	}

	snap, _ := s.Snapshot("h1")
	if snap.Name != "Home Renamed" {
		t.Errorf("name = %q, want latest listing name", snap.Name)
	}
}
