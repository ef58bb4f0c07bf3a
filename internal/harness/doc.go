// Package harness runs offline-sync scenarios against a fully wired
// offline.Manager.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: network_down_then_restored
//	description: "A queued write replays once the network returns"
//	config:
//	  max_retries: 3
//	setup:
//	  online: false
//	flow:
//	  - op: write
//	    method: POST
//	    url: /orders
//	    body: '{"qty":1}'
//	    expect: { queued: true }
//	  - op: set_online
//	    online: true
//	  - op: respond
//	    responses:
//	      - { status: 201 }
//	  - op: sync
//	    expect: { processed: 1 }
//	assertions:
//	  - type: queue_length
//	    count: 0
//
// # Operations
//
//   - write: send a mutating request through the routing layer
//   - sync: run one replay pass and wait for it
//   - set_online: feed a connectivity change
//   - advance: move the fake clock forward
//   - respond: append scripted network outcomes
//   - credential: replace the current credential
//   - reauthenticate: release items held after a 401
//   - cache_set, cache_get, cache_sweep: drive the TTL cache directly
//
// # Assertion Types
//
//   - request_count: the network saw exactly N requests
//   - request_order: the network saw exactly these "METHOD URL" requests
//   - queue_length: exactly N items remain stored
//   - queue_state: the item matching where has the expected fields
//   - event_count: the status hub emitted an event kind exactly N times
//
// # Deterministic Testing
//
// Every scenario gets a fresh in-memory store, a fake clock starting at
// testutil.Epoch, sequential idempotency keys and a scripted transport.
// The network is down unless a respond step says otherwise. Traces are
// therefore identical across runs and can be compared to golden files.
package harness
