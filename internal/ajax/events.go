package ajax

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

// Source identifies which transport produced an event.
type Source string

// Source constants.
const (
	SourcePoll   Source = "poll"
	SourceStream Source = "stream"
	SourceQueue  Source = "queue"
)

// EventKind classifies an UpdateEvent.
type EventKind string

// EventKind constants.
const (
	// KindState carries a partial field update merged into the target record.
	KindState EventKind = "state"

	// KindMetadata carries a complete metadata snapshot replacing the hub's
	// sub-collections wholesale.
	KindMetadata EventKind = "metadata"
)

// EntityType identifies what an UpdateEvent's entity id refers to.
type EntityType string

// EntityType constants.
const (
	EntityHub    EntityType = "hub"
	EntityGroup  EntityType = "group"
	EntityDevice EntityType = "device"
)

// UpdateEvent is an immutable normalized change produced by the normalizer
// and consumed exactly once by the deduplicator. For KindState events Fields
// carries the changed fields; for KindMetadata events Metadata carries the
// full snapshot.
type UpdateEvent struct {
	HubID      string
	EntityID   string
	EntityType EntityType
	Source     Source
	Kind       EventKind

	// DeviceType hints the semantic variant for provisional record creation
	// from push/queue sightings. Empty when the source did not say.
	DeviceType DeviceType

	Fields   Fields
	Metadata *MetadataSnapshot

	OccurredAt time.Time

	// SequenceHint is a source-provided ordering hint. Cross-transport
	// delivery order is not guaranteed, so it is advisory only.
	SequenceHint int64
}

// DedupKey derives the deduplication cache key: entity identity, event kind,
// and a hash over the changed fields. Events differing only in source or
// timing map to the same key, which is exactly what lets duplicates arriving
// via different transports collapse.
func (e UpdateEvent) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s:%x", e.EntityID, e.EntityType, e.Kind, e.fieldsHash())
}

// fieldsHash computes an FNV-1a hash over the sorted field pairs so that map
// iteration order cannot perturb the key. Metadata events hash the full
// snapshot contents: a rename or room reassignment changes the key even when
// the collection counts stay the same, so a post-reconnect snapshot is never
// mistaken for the one already applied.
func (e UpdateEvent) fieldsHash() uint64 {
	h := fnv.New64a()

	if e.Kind == KindMetadata && e.Metadata != nil {
		m := e.Metadata
		entries := make([]string, 0, len(m.Rooms)+len(m.Users)+len(m.Groups)+len(m.Devices))
		for _, r := range m.Rooms {
			entries = append(entries, fmt.Sprintf("room:%s:%s", r.ID, r.Name))
		}
		for _, u := range m.Users {
			entries = append(entries, fmt.Sprintf("user:%s:%s:%s", u.ID, u.Name, u.Role))
		}
		for _, g := range m.Groups {
			entries = append(entries, fmt.Sprintf("group:%s:%s:%s", g.ID, g.Name, g.ArmedMode))
		}
		for _, d := range m.Devices {
			entries = append(entries, fmt.Sprintf("device:%s:%s:%s:%s", d.ID, d.Name, d.Type, d.RoomID))
		}
		sort.Strings(entries)
		for _, entry := range entries {
			fmt.Fprintf(h, "%s;", entry)
		}
		return h.Sum64()
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, e.Fields[k])
	}
	return h.Sum64()
}

// Severity classifies a NotificationEvent for listeners.
type Severity string

// Severity constants.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityAlarm   Severity = "alarm"
)

// NotificationEvent is a fire-and-forget record delivered to listeners
// directly. It never mutates the device tree.
type NotificationEvent struct {
	ID         string    `json:"id"`
	HubID      string    `json:"hub_id"`
	Code       string    `json:"code,omitempty"`
	Tag        string    `json:"tag"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	RoomName   string    `json:"room_name,omitempty"`
	UserName   string    `json:"user_name,omitempty"`
	Severity   Severity  `json:"severity"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DedupKey derives the deduplication cache key for a notification: hub,
// tag, code, and the originating device. The generated ID and arrival
// timing are excluded so the same physical occurrence reported by two
// transports maps to one key.
func (n NotificationEvent) DedupKey() string {
	return fmt.Sprintf("note:%s:%s:%s:%s", n.HubID, n.Tag, n.Code, n.DeviceID)
}

// ChangeSet is one debounced notification cycle: the set of entity ids whose
// state changed since the previous cycle.
type ChangeSet struct {
	HubIDs    []string  `json:"hub_ids"`
	EntityIDs []string  `json:"entity_ids"`
	FiredAt   time.Time `json:"fired_at"`
}
