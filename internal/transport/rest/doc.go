// Package rest implements the rate-limited REST poller client.
//
// Two request classes exist. The light poll fetches hub and device state
// only; the full metadata request fetches rooms, users, groups, and the
// authoritative device list, and runs at a much lower cadence.
//
// # Rate Limiting
//
// All requests for one account share a single token bucket because the
// cloud limits per credential, not per hub. When the bucket is exhausted a
// call is delayed until quota replenishes — never dropped and never treated
// as a failure.
//
// # Retries
//
// Transient failures (timeout, 5xx, connection errors) retry in place with
// capped exponential backoff. Authentication failures invalidate the token
// source and propagate immediately; other 4xx responses propagate without
// retry.
//
// # Response Hints
//
// The cloud may attach scheduling hints as response headers: a suggested
// poll interval, a cache hit/miss marker, and a cache TTL. They are parsed
// into Hints for the reconciliation scheduler and are all optional.
package rest
