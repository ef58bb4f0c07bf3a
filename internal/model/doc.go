// Package model provides the durable record types shared by the offsync
// store, cache and queue.
//
// This package contains type definitions and their invariants only. Other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Timestamps are persisted with millisecond resolution
//   - QueueItem.Method is never GET or HEAD
//   - QueueItem.Status only moves forward (pending → completed | failed)
//   - JSON tags use camelCase to match the control channel wire format
package model
