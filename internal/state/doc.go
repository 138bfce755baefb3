// Package state owns the device tree: the authoritative in-memory mirror
// of every hub, group, and device.
//
// The tree is mutated only through Store.Apply; every other component
// either holds a deep-copied snapshot or emits events into the pipeline.
// Mutations serialize per hub, so concurrent events from different
// transports for the same hub never interleave partial writes, while
// unrelated hubs apply in parallel.
//
// # Apply Semantics
//
// A state-kind event merges only the fields it carries into the target
// record; absent fields are untouched. Every field update is absolute
// (last-writer-wins per field). A metadata-kind event replaces the hub's
// rooms, users, and groups wholesale and reconciles the device list
// against the authoritative snapshot.
//
// # Device Lifecycle
//
//	push/queue sighting ──▶ provisional record ──▶ promoted on metadata
//	                              │                    confirmation
//	                              └──▶ evicted after the grace period
//	                                   passes unconfirmed
//
// A confirmed device is removed only when a metadata snapshot omits its
// id. The device type is immutable after creation: when the cloud
// reassigns a type, the record is destroyed and recreated.
//
// # Push Priority
//
// A hub whose state was just updated by the stream or queue enters a
// short protection window during which poll-sourced hub state is
// discarded. Polling lags the push channels; without the window a poll
// response read before an arm event but applied after it would flap the
// mode back.
package state
