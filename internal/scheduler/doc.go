// Package scheduler drives the reconciliation cadence: when each hub is
// polled, when its metadata is refreshed, and how failures slow it down.
//
// # Per-Hub State Machine
//
//	            interval elapsed
//	LIGHT_POLL ──────────────────▶ poll ──ok──▶ LIGHT_POLL
//	    │                           │
//	    │ hourly timer /            │ transient error
//	    │ stream reconnect          ▼
//	    ▼                        BACKOFF ──ok──▶ LIGHT_POLL
//	FULL_REFRESH_DUE
//	    │
//	CACHE_BYPASS_PENDING (next poll bypasses intermediate caches)
//
// Each hub runs its own loop with its own backoff state: a hub in BACKOFF
// suspends only its own cadence, never other hubs' schedules or the shared
// stream and queue connections.
//
// # Interval Policy
//
// The light-poll interval is short while disarmed and long while armed;
// the push channels carry real-time changes, so polling is the fallback
// safety net and armed sites poll less. A cloud-suggested interval, when
// present, overrides the local default but is clamped to a safe range.
//
// Timers go through the Clock interface so tests can drive the loops
// without sleeping.
package scheduler
