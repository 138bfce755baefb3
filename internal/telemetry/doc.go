// Package telemetry records device health readings to InfluxDB v2.
//
// The sensors report diagnostics (battery level, radio signal, enclosure
// temperature) alongside their state fields. Those readings have no place
// in the live device tree beyond the latest value, so this package forwards
// them to a time-series store for trend analysis.
//
// # Measurements
//
//	device_health   battery, signal, temperature per device
//	hub_status      online flag, armed flag, device count per hub
//
// Writes are non-blocking: the client batches points and flushes them
// asynchronously on the configured interval. Write failures surface via the
// SetOnError callback, never on the hot path.
//
// Telemetry is optional. When disabled in config, Connect returns
// ErrDisabled and the engine simply skips the recorder.
package telemetry
