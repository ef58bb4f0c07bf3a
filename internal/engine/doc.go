// Package engine implements the background sync scheduler.
//
// The engine drains the offline mutation queue against the network, one
// item at a time, in the queue's fixed replay order.
//
// ARCHITECTURE:
//
// Single-Pass Guarantee:
// At most one drain pass runs at a time. Within a process an atomic flag
// guards Drain; across processes (daemon and one-shot drain) a lease row
// in the Durable Store does. A caller that loses either race gets a
// coalesced Result and touches no item.
//
// Triggers:
//   - offline → online transition (OnlineChanged)
//   - periodic ticker while online with pending items
//   - manual: SyncNow (synchronous) or Trigger (async, coalescing)
//   - deferred wake: a detached process calling Drain directly
//
// Trigger signals land in a buffered channel of size one, so any number of
// triggers during a pass collapse into exactly one follow-up pass.
//
// Per-Item Outcome:
//   - 2xx: completed
//   - 401: held until re-authentication (or dropped, per AuthPolicy)
//   - other 4xx: removed, never retried
//   - 5xx / transport error: retry count incremented; failed at MaxRetries
//
// Cancellation:
// An in-flight request is never aborted. Context cancellation and Stop are
// observed between items only.
//
// Delivery is at-least-once. Each item carries an Idempotency-Key header
// so the server can discard duplicates.
package engine
