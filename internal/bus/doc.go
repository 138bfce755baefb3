// Package bus publishes synchronized state and security events to the
// downstream MQTT bus.
//
// The bus is strictly one-directional: the engine publishes, consumers
// (dashboards, automations, recorders) subscribe. Nothing arriving on MQTT
// ever mutates the device tree, so the package carries no subscription
// machinery.
//
// # Topic Layout
//
//	ajaxsync/state/{hubID}      retained hub snapshot (JSON HubState)
//	ajaxsync/event/{hubID}      security notifications, not retained
//	ajaxsync/changes            debounced change-set announcements
//	ajaxsync/system/status      online/offline status, retained, LWT-backed
//
// State topics are retained so a consumer attaching mid-session immediately
// sees the current snapshot. Event topics are not retained: a notification
// is only meaningful at the moment it fires.
//
// # Connection Lifecycle
//
// Connect establishes the broker session, registers a Last Will and
// Testament on the system status topic, and publishes the online status.
// The paho client auto-reconnects with capped exponential backoff; on
// reconnect the online status is republished. Close publishes a graceful
// offline status distinct from the LWT crash payload.
package bus
