package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// Logger is the minimal logging interface the pipeline needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Normalized is the output of one normalization call: zero or more state
// updates for the store plus zero or more fire-and-forget notifications.
type Normalized struct {
	Updates       []ajax.UpdateEvent
	Notifications []ajax.NotificationEvent
}

// Normalizer translates raw transport payloads into canonical events.
//
// It is a pure translation layer: it holds no pipeline state beyond a
// clock, and a malformed payload yields ErrNormalization rather than a
// partial result.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Normalizer struct {
	logger Logger
	now    func() time.Time
}

// NewNormalizer creates a Normalizer. A nil logger disables logging.
func NewNormalizer(logger Logger) *Normalizer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Normalizer{logger: logger, now: time.Now}
}

// securityModes maps hub-level security event tags to the resulting mode.
var securityModes = map[string]ajax.ArmedMode{
	"arm":          ajax.ModeArmed,
	"disarm":       ajax.ModeDisarmed,
	"nightmode":    ajax.ModeNight,
	"nightmodeon":  ajax.ModeNight,
	"nightmodeoff": ajax.ModeDisarmed,
}

// Value policy for device event tags: derive the boolean from the event
// code transition, or force it when the tag name itself encodes direction.
const (
	fromTransition = iota
	assertTrue
	assertFalse
)

type tagRule struct {
	field  string
	device ajax.DeviceType
	value  int
}

// tagRules routes device-level event tags to the field they set and the
// device-type hint used when the sighting creates a provisional record.
// Tags absent here (doorbell presses, scenario runs, video AI events)
// produce a notification without a state update.
var tagRules = map[string]tagRule{
	"dooropened": {field: ajax.FieldOpened, device: ajax.DeviceContact, value: assertTrue},
	"doorclosed": {field: ajax.FieldOpened, device: ajax.DeviceContact, value: assertFalse},
	"door":       {field: ajax.FieldOpened, device: ajax.DeviceContact, value: fromTransition},

	"motiondetected": {field: ajax.FieldMotion, device: ajax.DeviceMotion, value: assertTrue},
	"motion":         {field: ajax.FieldMotion, device: ajax.DeviceMotion, value: fromTransition},

	"smokedetected": {field: ajax.FieldSmoke, device: ajax.DeviceFire, value: assertTrue},
	"smoke":         {field: ajax.FieldSmoke, device: ajax.DeviceFire, value: fromTransition},

	"leakdetected": {field: ajax.FieldLeak, device: ajax.DeviceFlood, value: assertTrue},
	"leak":         {field: ajax.FieldLeak, device: ajax.DeviceFlood, value: fromTransition},

	"glassbreak": {field: ajax.FieldGlassBreak, device: ajax.DeviceGlassBreak, value: assertTrue},

	"tamper":    {field: ajax.FieldTamper, value: fromTransition},
	"lidopened": {field: ajax.FieldTamper, value: assertTrue},
	"lidclosed": {field: ajax.FieldTamper, value: assertFalse},

	"lostconnection":     {field: ajax.FieldOnline, value: assertFalse},
	"connectionrestored": {field: ajax.FieldOnline, value: assertTrue},
	"lowbattery":         {field: ajax.FieldLowBattery, value: assertTrue},
	"batteryrestored":    {field: ajax.FieldLowBattery, value: assertFalse},

	"relayon":   {field: ajax.FieldOn, device: ajax.DeviceSwitch, value: assertTrue},
	"relayoff":  {field: ajax.FieldOn, device: ajax.DeviceSwitch, value: assertFalse},
	"switchon":  {field: ajax.FieldOn, device: ajax.DeviceSwitch, value: assertTrue},
	"switchoff": {field: ajax.FieldOn, device: ajax.DeviceSwitch, value: assertFalse},

	"locked":   {field: ajax.FieldLocked, device: ajax.DeviceLock, value: assertTrue},
	"unlocked": {field: ajax.FieldLocked, device: ajax.DeviceLock, value: assertFalse},
}

// Envelope normalizes a push-channel message (stream or queue; both carry
// the same envelope). It accepts the nested form {"event": {...}} as well
// as the flat form the proxy emits, and tolerates the several fallback
// chains the cloud uses for source name, id, and type. Every nested value
// is type-checked before descending; a scalar where a mapping is expected
// degrades to an absent value instead of failing the whole message.
func (n *Normalizer) Envelope(source ajax.Source, payload []byte) (*Normalized, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}

	ev := raw
	if nested, ok := raw["event"].(map[string]any); ok {
		ev = nested
	}

	tag := strings.ToLower(stringField(ev, "eventTag"))
	hubID := stringField(ev, "hubId")
	if tag == "" || hubID == "" {
		return nil, fmt.Errorf("%w: missing eventTag or hubId", ErrNormalization)
	}

	code := stringField(ev, "eventCode")
	info := ajax.ParseEventCode(code)

	device := mapField(ev, "device")
	src := mapField(ev, "source")

	name := firstString(
		stringField(device, "name"),
		stringField(src, "name"),
		stringField(ev, "sourceObjectName"),
		stringField(ev, "sourceName"),
	)
	deviceID := firstString(
		stringField(device, "id"),
		stringField(ev, "sourceObjectId"),
		stringField(ev, "deviceId"),
	)
	typeHint := firstString(
		stringField(device, "type"),
		stringField(ev, "sourceObjectType"),
	)
	srcType := firstString(
		stringField(src, "type"),
		stringField(ev, "sourceType"),
	)

	occurred := n.now().UTC()
	if ts, ok := floatField(ev, "timestamp"); ok && ts > 0 {
		occurred = time.Unix(int64(ts), 0).UTC()
	}

	note := ajax.NotificationEvent{
		ID:         uuid.NewString(),
		HubID:      hubID,
		Code:       code,
		Tag:        tag,
		DeviceID:   deviceID,
		DeviceName: name,
		Severity:   info.Severity(),
		OccurredAt: occurred,
	}
	if strings.EqualFold(srcType, "user") {
		note.UserName = name
		note.DeviceName = ""
	}

	out := &Normalized{}

	switch {
	case securityModes[tag] != "":
		out.Updates = append(out.Updates, ajax.UpdateEvent{
			HubID:      hubID,
			EntityID:   hubID,
			EntityType: ajax.EntityHub,
			Source:     source,
			Kind:       ajax.KindState,
			Fields:     ajax.Fields{ajax.FieldArmedMode: string(securityModes[tag])},
			OccurredAt: occurred,
		})

	case tag == "grouparm" || tag == "groupdisarm":
		mode := ajax.ModeArmed
		if tag == "groupdisarm" {
			mode = ajax.ModeDisarmed
		}
		// Group identity keeps two zones armed by one user distinct.
		if groupID := relatedGroupID(ev); groupID != "" {
			out.Updates = append(out.Updates, ajax.UpdateEvent{
				HubID:      hubID,
				EntityID:   groupID,
				EntityType: ajax.EntityGroup,
				Source:     source,
				Kind:       ajax.KindState,
				Fields:     ajax.Fields{ajax.FieldArmedMode: string(mode)},
				OccurredAt: occurred,
			})
		} else {
			n.logger.Debug("group event without group id", "tag", tag, "hub_id", hubID)
		}

	default:
		rule, ok := tagRules[tag]
		if !ok {
			n.logger.Warn("unhandled event tag",
				"tag", tag,
				"code", code,
				"hub_id", hubID,
				"source_type", typeHint,
			)
			break
		}
		if deviceID == "" {
			n.logger.Debug("device event without source id", "tag", tag, "hub_id", hubID)
			break
		}

		val := info.Transition == ajax.TransitionTriggered
		switch rule.value {
		case assertTrue:
			val = true
		case assertFalse:
			val = false
		}

		out.Updates = append(out.Updates, ajax.UpdateEvent{
			HubID:      hubID,
			EntityID:   deviceID,
			EntityType: ajax.EntityDevice,
			Source:     source,
			Kind:       ajax.KindState,
			DeviceType: deviceTypeHint(rule, typeHint),
			Fields:     ajax.Fields{rule.field: val},
			OccurredAt: occurred,
		})
	}

	out.Notifications = append(out.Notifications, note)
	return out, nil
}

// deviceTypeHint prefers the cloud-reported device model over the tag
// rule's generic hint.
func deviceTypeHint(rule tagRule, cloudType string) ajax.DeviceType {
	if t := MapDeviceType(cloudType); t != "" {
		return t
	}
	return rule.device
}

// lightPollPayload is the REST light-poll response shape.
type lightPollPayload struct {
	Hub struct {
		Name      string `json:"name"`
		ArmedMode string `json:"armedMode"`
		Online    *bool  `json:"online"`
		Firmware  string `json:"firmwareVersion"`
	} `json:"hub"`
	Devices []struct {
		ID    string         `json:"id"`
		Type  string         `json:"type"`
		State map[string]any `json:"state"`
	} `json:"devices"`
	Groups []struct {
		ID        string `json:"id"`
		ArmedMode string `json:"armedMode"`
	} `json:"groups"`
}

// LightPoll normalizes a REST light-poll response into state updates for
// the hub, its groups, and its devices.
func (n *Normalizer) LightPoll(hubID string, payload []byte) (*Normalized, error) {
	var body lightPollPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: light poll: %v", ErrNormalization, err)
	}

	occurred := n.now().UTC()
	out := &Normalized{}

	hubFields := ajax.Fields{}
	if mode, ok := ParseArmedMode(body.Hub.ArmedMode); ok {
		hubFields[ajax.FieldArmedMode] = string(mode)
	}
	if body.Hub.Online != nil {
		hubFields[ajax.FieldOnline] = *body.Hub.Online
	}
	if body.Hub.Firmware != "" {
		hubFields[ajax.FieldFirmware] = body.Hub.Firmware
	}
	if len(hubFields) > 0 {
		out.Updates = append(out.Updates, ajax.UpdateEvent{
			HubID:      hubID,
			EntityID:   hubID,
			EntityType: ajax.EntityHub,
			Source:     ajax.SourcePoll,
			Kind:       ajax.KindState,
			Fields:     hubFields,
			OccurredAt: occurred,
		})
	}

	for _, g := range body.Groups {
		if g.ID == "" {
			continue
		}
		mode, ok := ParseArmedMode(g.ArmedMode)
		if !ok {
			n.logger.Debug("group with unknown armed mode", "hub_id", hubID, "group_id", g.ID, "mode", g.ArmedMode)
			continue
		}
		out.Updates = append(out.Updates, ajax.UpdateEvent{
			HubID:      hubID,
			EntityID:   g.ID,
			EntityType: ajax.EntityGroup,
			Source:     ajax.SourcePoll,
			Kind:       ajax.KindState,
			Fields:     ajax.Fields{ajax.FieldArmedMode: string(mode)},
			OccurredAt: occurred,
		})
	}

	for _, d := range body.Devices {
		if d.ID == "" || len(d.State) == 0 {
			continue
		}
		out.Updates = append(out.Updates, ajax.UpdateEvent{
			HubID:      hubID,
			EntityID:   d.ID,
			EntityType: ajax.EntityDevice,
			Source:     ajax.SourcePoll,
			Kind:       ajax.KindState,
			DeviceType: MapDeviceType(d.Type),
			Fields:     ajax.Fields(d.State).Clone(),
			OccurredAt: occurred,
		})
	}

	return out, nil
}

// metadataPayload is the REST full-metadata response shape.
type metadataPayload struct {
	Rooms []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"rooms"`
	Users []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"users"`
	Groups []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		ArmedMode string `json:"armedMode"`
	} `json:"groups"`
	Devices []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	} `json:"devices"`
}

// Metadata normalizes a full-metadata response into one snapshot event.
// Metadata is always a complete snapshot, never a diff.
func (n *Normalizer) Metadata(hubID string, payload []byte) (*Normalized, error) {
	var body metadataPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrNormalization, err)
	}

	snap := &ajax.MetadataSnapshot{}
	for _, r := range body.Rooms {
		snap.Rooms = append(snap.Rooms, ajax.Room{ID: r.ID, Name: r.Name})
	}
	for _, u := range body.Users {
		snap.Users = append(snap.Users, ajax.User{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	for _, g := range body.Groups {
		mode, ok := ParseArmedMode(g.ArmedMode)
		if !ok {
			mode = ajax.ModeDisarmed
		}
		snap.Groups = append(snap.Groups, ajax.GroupState{ID: g.ID, Name: g.Name, ArmedMode: mode})
	}
	for _, d := range body.Devices {
		snap.Devices = append(snap.Devices, ajax.DeviceMeta{
			ID:     d.ID,
			Name:   d.Name,
			Type:   MapDeviceType(d.Type),
			RoomID: d.RoomID,
		})
	}

	return &Normalized{
		Updates: []ajax.UpdateEvent{{
			HubID:      hubID,
			EntityID:   hubID,
			EntityType: ajax.EntityHub,
			Source:     ajax.SourcePoll,
			Kind:       ajax.KindMetadata,
			Metadata:   snap,
			OccurredAt: n.now().UTC(),
		}},
	}, nil
}

// ParseArmedMode maps the cloud's armed-mode spelling onto the canonical
// mode values. It accepts any case and tolerates underscore separators.
func ParseArmedMode(s string) (ajax.ArmedMode, bool) {
	switch strings.ReplaceAll(strings.ToLower(s), "_", "") {
	case "armed", "arm", "armednight": // armednight reports armed at hub level
		return ajax.ModeArmed, true
	case "disarmed", "disarm":
		return ajax.ModeDisarmed, true
	case "night", "nightmode", "partiallyarmednightmode":
		return ajax.ModeNight, true
	case "arming":
		return ajax.ModeArming, true
	case "disarming":
		return ajax.ModeDisarming, true
	case "malfunction":
		return ajax.ModeMalfunction, true
	default:
		return "", false
	}
}

// MapDeviceType maps a cloud device model name onto the semantic device
// type governing field interpretation. Unknown models map to the empty
// type; the store treats that as "no hint".
func MapDeviceType(model string) ajax.DeviceType {
	m := strings.ToLower(model)
	switch {
	case m == "":
		return ""
	case strings.Contains(m, "doorbell"):
		return ajax.DeviceDoorbell
	case strings.Contains(m, "waterstop") || strings.Contains(m, "valve"):
		return ajax.DeviceValve
	case strings.Contains(m, "leak") || strings.Contains(m, "flood"):
		return ajax.DeviceFlood
	case strings.Contains(m, "fire") || strings.Contains(m, "smoke") || strings.Contains(m, "manualcallpoint"):
		return ajax.DeviceFire
	case strings.Contains(m, "glass"):
		return ajax.DeviceGlassBreak
	case strings.Contains(m, "motion"):
		return ajax.DeviceMotion
	case strings.Contains(m, "doorprotect") || strings.Contains(m, "magnet") || strings.Contains(m, "contact"):
		return ajax.DeviceContact
	case strings.Contains(m, "transmitter"):
		return ajax.DeviceTransmitter
	case strings.Contains(m, "cam") || strings.Contains(m, "video") || strings.Contains(m, "nvr"):
		return ajax.DeviceCamera
	case strings.Contains(m, "lock"):
		return ajax.DeviceLock
	case strings.Contains(m, "relay") || strings.Contains(m, "switch") || strings.Contains(m, "socket") || strings.Contains(m, "plug"):
		return ajax.DeviceSwitch
	case strings.Contains(m, "siren"):
		return ajax.DeviceSiren
	case strings.Contains(m, "keypad"):
		return ajax.DeviceKeypad
	case strings.Contains(m, "button") || strings.Contains(m, "spacecontrol"):
		return ajax.DeviceButton
	case strings.Contains(m, "rex") || strings.Contains(m, "range"):
		return ajax.DeviceRangeExtender
	default:
		return ""
	}
}

// relatedGroupID extracts the first related group id from a group arm or
// disarm envelope.
func relatedGroupID(ev map[string]any) string {
	add := mapField(ev, "additionalData")
	groups, ok := add["relatedGroupsInfo"].([]any)
	if !ok || len(groups) == 0 {
		return ""
	}
	g, ok := groups[0].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(g, "id")
}

// stringField returns m[key] as a string, accepting numeric ids too.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// mapField returns m[key] as a mapping, or nil when absent or scalar.
func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// floatField returns m[key] as a float64.
func floatField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key].(float64)
	return v, ok
}

// firstString returns the first non-empty value.
func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
