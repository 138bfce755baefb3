// Package ajax defines the domain model for Ajax Sync Core.
//
// The model mirrors the hierarchy exposed by the Ajax cloud: an account owns
// hubs, a hub owns devices and groups (zones), and metadata (rooms, users)
// hangs off the hub. The package also defines the canonical pipeline values:
// UpdateEvent (a normalized change flowing towards the state store) and
// NotificationEvent (a fire-and-forget occurrence delivered to listeners).
//
// # Key Types
//
//   - HubState: one physical controller with its devices, groups, rooms, users
//   - DeviceRecord: map-backed field set plus an immutable device-type tag
//   - GroupState: a zone with its own armed mode, bounded by the hub's
//   - UpdateEvent: immutable normalized change (entity, kind, fields, source)
//   - NotificationEvent: event-log record (code, device, room, user, severity)
//
// # Ownership
//
// Values of these types cross goroutine boundaries constantly, so the rules
// are strict: UpdateEvent and NotificationEvent are treated as immutable
// after construction, and HubState/DeviceRecord expose DeepCopy so the state
// store can hand out snapshots that readers may not share with the mutable
// tree.
package ajax
