// Package event implements the normalization pipeline between the raw
// transports and the state store.
//
// # Pipeline
//
//	┌────────┐  ┌────────┐  ┌───────┐
//	│  poll  │  │ stream │  │ queue │
//	└───┬────┘  └───┬────┘  └───┬───┘
//	    │ raw JSON  │ envelope  │ envelope
//	    ▼           ▼           ▼
//	┌─────────────────────────────────┐
//	│           Normalizer            │  per-source format → UpdateEvent
//	└───────────────┬─────────────────┘
//	                ▼
//	┌─────────────────────────────────┐
//	│          Deduplicator           │  trailing-window admit/discard
//	└───────────────┬─────────────────┘
//	                ▼
//	          state store apply
//	                │
//	                ▼
//	┌─────────────────────────────────┐
//	│           Debouncer             │  coalesce into change cycles
//	└─────────────────────────────────┘
//
// The normalizer is a pure translation layer: a malformed payload is
// rejected with ErrNormalization and dropped by the caller, never raised
// into the pipeline. The same physical state change legitimately arrives
// over more than one transport; the deduplicator collapses those within a
// trailing window so downstream listeners fire once. The debouncer then
// coalesces bursts of admitted changes into one notification cycle per
// quiet period.
package event
