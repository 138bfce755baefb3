package ajax

import "time"

// ArmedMode represents a hub or group security mode.
type ArmedMode string

// ArmedMode constants.
const (
	ModeDisarmed    ArmedMode = "disarmed"
	ModeArmed       ArmedMode = "armed"
	ModeNight       ArmedMode = "night"
	ModeArming      ArmedMode = "arming"
	ModeDisarming   ArmedMode = "disarming"
	ModeMalfunction ArmedMode = "malfunction"
)

// AllArmedModes returns all valid armed mode values.
func AllArmedModes() []ArmedMode {
	return []ArmedMode{
		ModeDisarmed, ModeArmed, ModeNight,
		ModeArming, ModeDisarming, ModeMalfunction,
	}
}

// IsArmed reports whether the mode counts as armed for polling-cadence
// purposes. Transitional arming counts: the hub is already relying on the
// push channels for the outcome.
func (m ArmedMode) IsArmed() bool {
	switch m {
	case ModeArmed, ModeNight, ModeArming:
		return true
	case ModeDisarmed, ModeDisarming, ModeMalfunction:
		return false
	default:
		return false
	}
}

// DeviceType represents the semantic variant governing a device's fields.
// The type of a record never changes after creation; a cloud-side type
// reassignment destroys and recreates the record.
type DeviceType string

// DeviceType constants.
const (
	DeviceMotion        DeviceType = "motion"
	DeviceContact       DeviceType = "contact"
	DeviceFire          DeviceType = "fire"
	DeviceFlood         DeviceType = "flood"
	DeviceGlassBreak    DeviceType = "glass_break"
	DeviceTransmitter   DeviceType = "transmitter"
	DeviceCamera        DeviceType = "camera"
	DeviceLock          DeviceType = "lock"
	DeviceSwitch        DeviceType = "switch"
	DeviceSiren         DeviceType = "siren"
	DeviceKeypad        DeviceType = "keypad"
	DeviceButton        DeviceType = "button"
	DeviceValve         DeviceType = "valve"
	DeviceDoorbell      DeviceType = "doorbell"
	DeviceRangeExtender DeviceType = "range_extender"
)

// AllDeviceTypes returns all valid device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceMotion, DeviceContact, DeviceFire, DeviceFlood,
		DeviceGlassBreak, DeviceTransmitter, DeviceCamera, DeviceLock,
		DeviceSwitch, DeviceSiren, DeviceKeypad, DeviceButton,
		DeviceValve, DeviceDoorbell, DeviceRangeExtender,
	}
}

// Room is a named location within a hub's site.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is an account member known to a hub.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// GroupState is a zone with its own armed mode, independent of but bounded
// by the hub mode: a group cannot be armed while the hub reports malfunction.
type GroupState struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ArmedMode ArmedMode `json:"armed_mode"`
}

// DeviceMeta is one entry of the authoritative device list delivered by a
// full metadata refresh.
type DeviceMeta struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   DeviceType `json:"type"`
	RoomID string     `json:"room_id,omitempty"`
}

// MetadataSnapshot is a complete metadata delivery for one hub. Metadata is
// always a snapshot, never a diff; the store replaces sub-collections
// wholesale when applying it.
type MetadataSnapshot struct {
	Rooms   []Room       `json:"rooms"`
	Users   []User       `json:"users"`
	Groups  []GroupState `json:"groups"`
	Devices []DeviceMeta `json:"devices"`
}

// DeviceRecord is the live state of one device: a field map plus the
// immutable device-type tag selecting how those fields are interpreted.
type DeviceRecord struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   DeviceType `json:"type"`
	RoomID string     `json:"room_id,omitempty"`

	Fields Fields `json:"fields"`

	// Provisional marks a record created from a push/queue sighting that
	// has not yet been confirmed by an authoritative metadata poll.
	Provisional bool `json:"provisional,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the DeviceRecord.
// The field map is cloned so modifications to the copy do not affect the
// original. This is essential for snapshot isolation.
func (d *DeviceRecord) DeepCopy() *DeviceRecord {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Fields = d.Fields.Clone()
	return &cpy
}

// HubState is one physical controller and everything it owns.
type HubState struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ArmedMode       ArmedMode `json:"armed_mode"`
	Online          bool      `json:"online"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	LastSeen        time.Time `json:"last_seen"`

	// Stale indicates the snapshot is last-known-good: every transport has
	// been down past the staleness deadline. Entities are never removed on
	// staleness, only flagged.
	Stale bool `json:"stale,omitempty"`

	Devices map[string]*DeviceRecord `json:"devices"`
	Groups  map[string]*GroupState   `json:"groups"`
	Rooms   map[string]Room          `json:"rooms"`
	Users   map[string]User          `json:"users"`
}

// DeepCopy creates a complete independent copy of the HubState, including
// every owned device record, group, room, and user.
func (h *HubState) DeepCopy() *HubState {
	if h == nil {
		return nil
	}
	cpy := *h

	if h.Devices != nil {
		cpy.Devices = make(map[string]*DeviceRecord, len(h.Devices))
		for id, d := range h.Devices {
			cpy.Devices[id] = d.DeepCopy()
		}
	}
	if h.Groups != nil {
		cpy.Groups = make(map[string]*GroupState, len(h.Groups))
		for id, g := range h.Groups {
			gc := *g
			cpy.Groups[id] = &gc
		}
	}
	if h.Rooms != nil {
		cpy.Rooms = make(map[string]Room, len(h.Rooms))
		for id, r := range h.Rooms {
			cpy.Rooms[id] = r
		}
	}
	if h.Users != nil {
		cpy.Users = make(map[string]User, len(h.Users))
		for id, u := range h.Users {
			cpy.Users[id] = u
		}
	}

	return &cpy
}
