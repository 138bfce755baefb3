package event

import (
	"errors"
	"testing"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	n := NewNormalizer(nil)
	n.now = func() time.Time { return fixedNow }
	return n
}

func TestEnvelopeNestedSecurityEvent(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{
		"event": {
			"eventTag": "Disarm",
			"eventCode": "M_22_00",
			"hubId": "002BB321",
			"timestamp": 1767000000,
			"source": {"name": "Ada", "type": "USER"}
		}
	}`)

	got, err := n.Envelope(ajax.SourceStream, payload)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}

	if len(got.Updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(got.Updates))
	}
	up := got.Updates[0]
	if up.EntityType != ajax.EntityHub || up.EntityID != "002BB321" {
		t.Errorf("entity = %s/%s, want hub/002BB321", up.EntityType, up.EntityID)
	}
	if mode, _ := up.Fields.String(ajax.FieldArmedMode); mode != string(ajax.ModeDisarmed) {
		t.Errorf("armed_mode = %q, want disarmed", mode)
	}
	if want := time.Unix(1767000000, 0).UTC(); !up.OccurredAt.Equal(want) {
		t.Errorf("occurred_at = %v, want %v", up.OccurredAt, want)
	}

	if len(got.Notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got.Notifications))
	}
	note := got.Notifications[0]
	if note.UserName != "Ada" || note.DeviceName != "" {
		t.Errorf("user = %q, device = %q, want user event attribution", note.UserName, note.DeviceName)
	}
	if note.Severity != ajax.SeverityInfo {
		t.Errorf("severity = %s, want info", note.Severity)
	}
}

func TestEnvelopeFlatDeviceAlarm(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{
		"eventTag": "DoorOpened",
		"eventCode": "A_04_00",
		"hubId": "h1",
		"sourceObjectId": "dev-9",
		"sourceObjectName": "Front Door",
		"sourceObjectType": "DoorProtect"
	}`)

	got, err := n.Envelope(ajax.SourceQueue, payload)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}

	if len(got.Updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(got.Updates))
	}
	up := got.Updates[0]
	if up.EntityType != ajax.EntityDevice || up.EntityID != "dev-9" {
		t.Errorf("entity = %s/%s, want device/dev-9", up.EntityType, up.EntityID)
	}
	if up.DeviceType != ajax.DeviceContact {
		t.Errorf("device type = %s, want contact", up.DeviceType)
	}
	if opened, _ := up.Fields.Bool(ajax.FieldOpened); !opened {
		t.Error("opened = false, want true")
	}
	if got.Notifications[0].Severity != ajax.SeverityAlarm {
		t.Errorf("severity = %s, want alarm", got.Notifications[0].Severity)
	}
}

func TestEnvelopeRestoredTransition(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{"eventTag": "Tamper", "eventCode": "T_05_01", "hubId": "h1", "deviceId": "dev-3"}`)

	got, err := n.Envelope(ajax.SourceStream, payload)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}

	if tamper, ok := got.Updates[0].Fields.Bool(ajax.FieldTamper); !ok || tamper {
		t.Errorf("tamper = %v/%v, want false", tamper, ok)
	}
	if got.Notifications[0].Severity != ajax.SeverityInfo {
		t.Errorf("severity = %s, want info for restored condition", got.Notifications[0].Severity)
	}
}

func TestEnvelopeGroupArm(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{
		"eventTag": "GroupArm",
		"hubId": "h1",
		"sourceObjectId": "user-1",
		"additionalData": {"relatedGroupsInfo": [{"id": "g-7", "name": "Garage"}]}
	}`)

	got, err := n.Envelope(ajax.SourceStream, payload)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}

	if len(got.Updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(got.Updates))
	}
	up := got.Updates[0]
	if up.EntityType != ajax.EntityGroup || up.EntityID != "g-7" {
		t.Errorf("entity = %s/%s, want group/g-7", up.EntityType, up.EntityID)
	}
	if mode, _ := up.Fields.String(ajax.FieldArmedMode); mode != string(ajax.ModeArmed) {
		t.Errorf("armed_mode = %q, want armed", mode)
	}
}

func TestEnvelopeMalformed(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"scalar body", `42`},
		{"missing tag", `{"hubId": "h1"}`},
		{"missing hub", `{"eventTag": "Disarm"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := n.Envelope(ajax.SourceStream, []byte(tt.payload)); !errors.Is(err, ErrNormalization) {
				t.Errorf("Envelope() error = %v, want ErrNormalization", err)
			}
		})
	}
}

func TestEnvelopeScalarWhereMapExpected(t *testing.T) {
	n := newTestNormalizer()
	// device is a scalar here; historically this shape crashed consumers
	// that dereferenced it unconditionally.
	payload := []byte(`{"eventTag": "DoorClosed", "hubId": "h1", "device": "bogus", "sourceObjectId": "dev-2"}`)

	got, err := n.Envelope(ajax.SourceStream, payload)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if len(got.Updates) != 1 || got.Updates[0].EntityID != "dev-2" {
		t.Fatalf("updates = %+v, want one for dev-2", got.Updates)
	}
	if opened, ok := got.Updates[0].Fields.Bool(ajax.FieldOpened); !ok || opened {
		t.Errorf("opened = %v/%v, want false", opened, ok)
	}
}

func TestEnvelopeUnhandledTag(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{"eventTag": "ScenarioRun", "hubId": "h1"}`)

	got, err := n.Envelope(ajax.SourceQueue, payload)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if len(got.Updates) != 0 {
		t.Errorf("updates = %d, want 0 for unhandled tag", len(got.Updates))
	}
	if len(got.Notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(got.Notifications))
	}
}

func TestLightPoll(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{
		"hub": {"name": "Home", "armedMode": "NIGHT_MODE", "online": true, "firmwareVersion": "2.17.1"},
		"groups": [{"id": "g1", "armedMode": "ARMED"}, {"id": "g2", "armedMode": "???"}],
		"devices": [
			{"id": "d1", "type": "MotionProtect", "state": {"motion": false, "battery": 84}},
			{"id": "d2", "type": "WallSwitch", "state": {}}
		]
	}`)

	got, err := n.LightPoll("h1", payload)
	if err != nil {
		t.Fatalf("LightPoll() error = %v", err)
	}

	// Hub update, one valid group, one device with state.
	if len(got.Updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(got.Updates))
	}

	hub := got.Updates[0]
	if mode, _ := hub.Fields.String(ajax.FieldArmedMode); mode != string(ajax.ModeNight) {
		t.Errorf("hub armed_mode = %q, want night", mode)
	}
	if online, _ := hub.Fields.Online(); !online {
		t.Error("hub online = false, want true")
	}
	if fw, _ := hub.Fields.String(ajax.FieldFirmware); fw != "2.17.1" {
		t.Errorf("firmware = %q, want 2.17.1", fw)
	}

	group := got.Updates[1]
	if group.EntityType != ajax.EntityGroup || group.EntityID != "g1" {
		t.Errorf("entity = %s/%s, want group/g1", group.EntityType, group.EntityID)
	}

	dev := got.Updates[2]
	if dev.DeviceType != ajax.DeviceMotion {
		t.Errorf("device type = %s, want motion", dev.DeviceType)
	}
	if battery, _ := dev.Fields.Battery(); battery != 84 {
		t.Errorf("battery = %d, want 84", battery)
	}
}

func TestLightPollMalformed(t *testing.T) {
	n := newTestNormalizer()
	if _, err := n.LightPoll("h1", []byte(`[]`)); !errors.Is(err, ErrNormalization) {
		t.Errorf("LightPoll() error = %v, want ErrNormalization", err)
	}
}

func TestMetadata(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{
		"rooms": [{"id": "r1", "name": "Hallway"}],
		"users": [{"id": "u1", "name": "Ada", "role": "admin"}],
		"groups": [{"id": "g1", "name": "Garage", "armedMode": "DISARMED"}],
		"devices": [
			{"id": "d1", "name": "Front Door", "type": "DoorProtect Plus", "roomId": "r1"},
			{"id": "d2", "name": "Leak", "type": "LeaksProtect"}
		]
	}`)

	got, err := n.Metadata("h1", payload)
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}

	if len(got.Updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(got.Updates))
	}
	up := got.Updates[0]
	if up.Kind != ajax.KindMetadata || up.Metadata == nil {
		t.Fatalf("kind = %s, metadata = %v, want metadata snapshot", up.Kind, up.Metadata)
	}

	snap := up.Metadata
	if len(snap.Rooms) != 1 || len(snap.Users) != 1 || len(snap.Groups) != 1 || len(snap.Devices) != 2 {
		t.Fatalf("snapshot sizes = %d/%d/%d/%d, want 1/1/1/2",
			len(snap.Rooms), len(snap.Users), len(snap.Groups), len(snap.Devices))
	}
	if snap.Devices[0].Type != ajax.DeviceContact {
		t.Errorf("device[0] type = %s, want contact", snap.Devices[0].Type)
	}
	if snap.Devices[1].Type != ajax.DeviceFlood {
		t.Errorf("device[1] type = %s, want flood", snap.Devices[1].Type)
	}
	if snap.Devices[0].RoomID != "r1" {
		t.Errorf("device[0] room = %q, want r1", snap.Devices[0].RoomID)
	}
}

func TestParseArmedMode(t *testing.T) {
	tests := []struct {
		in   string
		want ajax.ArmedMode
		ok   bool
	}{
		{"ARMED", ajax.ModeArmed, true},
		{"disarmed", ajax.ModeDisarmed, true},
		{"NIGHT_MODE", ajax.ModeNight, true},
		{"PARTIALLY_ARMED_NIGHT_MODE", ajax.ModeNight, true},
		{"Arming", ajax.ModeArming, true},
		{"MALFUNCTION", ajax.ModeMalfunction, true},
		{"", "", false},
		{"garbage", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseArmedMode(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseArmedMode(%q) = %v/%v, want %v/%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMapDeviceType(t *testing.T) {
	tests := []struct {
		in   string
		want ajax.DeviceType
	}{
		{"MotionProtect", ajax.DeviceMotion},
		{"MotionCam", ajax.DeviceMotion},
		{"DoorProtect", ajax.DeviceContact},
		{"FireProtect 2", ajax.DeviceFire},
		{"LeaksProtect", ajax.DeviceFlood},
		{"GlassProtect", ajax.DeviceGlassBreak},
		{"WallSwitch", ajax.DeviceSwitch},
		{"Socket", ajax.DeviceSwitch},
		{"HomeSiren", ajax.DeviceSiren},
		{"KeyPad TouchScreen", ajax.DeviceKeypad},
		{"SpaceControl", ajax.DeviceButton},
		{"WaterStop", ajax.DeviceValve},
		{"DoorBell", ajax.DeviceDoorbell},
		{"ReX 2", ajax.DeviceRangeExtender},
		{"", ""},
		{"Mystery", ""},
	}

	for _, tt := range tests {
		if got := MapDeviceType(tt.in); got != tt.want {
			t.Errorf("MapDeviceType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
