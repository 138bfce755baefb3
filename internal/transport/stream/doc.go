// Package stream implements the push-stream transport: one long-lived SSE
// connection to the cloud, read line by line, with automatic reconnection.
//
// # Connection State Machine
//
// The reader moves through explicit states rather than ad hoc flags:
//
//	disconnected ──connect──▶ connected
//	     ▲                        │ read error / EOF
//	     │                        ▼
//	  ctx done ◀────────── reconnecting ──connect──▶ catch-up pending
//	                                                      │ catch-up signal
//	                                                      ▼
//	                                                  connected
//
// After any reconnect the disconnect window may have dropped events, so the
// reader fires the OnCatchup callback exactly once per reconnect; the
// reconciliation scheduler answers with a forced full-metadata refresh.
//
// The reader suspends only while waiting on the connection. It never blocks
// the other transports.
package stream
