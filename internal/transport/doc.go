// Package transport holds what the three network clients share: the error
// taxonomy that drives retry/backoff decisions, and the capped exponential
// backoff used by all of them.
//
// The three clients themselves live in sub-packages:
//
//   - transport/rest:   rate-limited REST poller (light poll + full metadata)
//   - transport/stream: reconnecting SSE push-stream reader
//   - transport/queue:  short-polling message-queue consumer
//
// Each client fails independently and owns its own backoff state; a queue
// outage never stalls polling or the stream.
//
// # Error Taxonomy
//
//   - ErrTransient: timeout, 5xx, connection reset — retried with backoff
//   - ErrAuthentication: fatal to the transport, surfaced to the session
//     collaborator, never retried locally
//   - ErrRateLimited: the call is delayed, not failed
//
// Classification is centralized in Classify so every client maps HTTP
// status codes and connection errors the same way.
package transport
