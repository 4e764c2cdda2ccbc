// Package gateway is courier's per-session concurrency and delivery engine.
//
// It owns the session registry, the per-session connection state machine with
// reconnection backoff, and the two FIFO queues every session carries:
// outbound sends toward the transport provider and inbound events toward the
// caller's webhook. Queues are in-memory and best-effort; delivery is
// at-least-once with bounded retries.
//
// Transport providers, metadata persistence, and alerting are consumed
// through narrow interfaces so the engine can be exercised with fakes.
package gateway
