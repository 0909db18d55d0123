// Package sseresume implements a resumable, at-least-once delivery
// protocol for server-pushed event streams over long-lived HTTP
// connections, with cooperating client and server halves.
//
// The server half assigns each emitted event a durable sequence number,
// retains a bounded window of recent events and replays events a
// reconnecting client missed. The client half manages the connection
// lifecycle: opening, detecting failure, backing off with jitter, resuming
// from the last observed sequence number and synthesizing liveness checks.
//
// Typical usage of the server half:
//	* Create one History instance per process with NewHistory.
//	* Create a Streamer with NewStreamer, injecting the shared History.
//	* In each HTTP handler call Streamer.Serve with a channel producing
//	  application events, everything else (sequence tagging, replay on
//	  reconnect, allowlist enforcement) is handled by the adapter.
//	* If graceful shutdown is required use DropConnections to disconnect
//	  existing clients.
//
// Typical usage of the client half:
//	* Create a Client with NewClient, register per-type handlers with On.
//	* Call Connect. Transport failures reconnect automatically with
//	  jittered exponential backoff, resuming from the persisted cursor.
//	* After the retry budget is exhausted the client self-closes and
//	  reports through OnRetryExhausted, call Reconnect to resume service.
//
// Delivery is at-least-once: events evicted from the history window before
// a client reconnects are silently lost, and replayed events may repeat
// ones the client already processed.
package sseresume
