// Package engine wires the transports, the event pipeline, and the
// listeners into one synchronization loop.
//
// # Data Flow
//
//	          ┌────────────┐
//	 REST  ──►│            │
//	 SSE   ──►│ Normalizer │──► Dedup ──► Store.Apply ──► Debounce
//	 queue ──►│            │       │                          │
//	          └────────────┘       │ notifications            │ change sets
//	                               ▼                          ▼
//	                     journal / MQTT / WebSocket   snapshots to MQTT/WS
//
// In-process consumers use Subscribe/SubscribeNotifications for channel
// delivery of the same cycles and events, and HubState/Device for deep-copy
// reads.
//
// The engine implements the scheduler's Syncer: the scheduler decides WHEN
// to poll, the engine performs the poll and feeds the results through the
// same pipeline the push channels use. Push-sourced changes mark the hub
// dirty so the next poll bypasses intermediate caches.
//
// # Ownership
//
// The engine owns the scheduler, the pipeline stages, and the background
// staleness monitor and journal writer. It does NOT own the transports:
// main constructs the stream reader and queue consumer pointing at
// HandleStream/HandleCatchup/HandleQueue and runs them alongside Run.
//
// # Shutdown
//
// Run returns once the context is cancelled and the scheduler has drained.
// The debouncer flushes its pending cycle on Close so a burst arriving just
// before shutdown still reaches listeners.
package engine
