// Package journal persists the event history: every notification
// delivered to listeners and every hub security-mode transition.
//
// The journal is write-behind — it never sits on the hot path between a
// transport and the state store. The engine records entries after the
// pipeline has applied them; the API reads them back for history queries.
package journal
