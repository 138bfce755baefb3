// Package config loads and validates the Ajax Sync Core configuration.
//
// Configuration is a single YAML document. Every engine tunable named in the
// reconciliation design (poll intervals, dedup and debounce windows, rate
// quota, backoff base/cap, provisional grace, staleness deadline) is
// overridable here and carries a sensible default, so a minimal config needs
// only the cloud endpoints and credentials:
//
//	cloud:
//	  base_url: https://api.ajax.systems/api
//	  stream_url: https://sse.ajax.systems/events
//	  account_id: "12345"
//	# token via AJAXSYNC_CLOUD_TOKEN
//
// Secrets (cloud token, queue URL, MQTT password, InfluxDB token) can be
// supplied through AJAXSYNC_-prefixed environment variables, which take
// precedence over file values.
package config
