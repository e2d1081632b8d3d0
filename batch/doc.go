// Package batch coalesces rapid-fire calls behind short timers.
//
// Two modes are provided:
//
//   - Debounce (replace): each call for a key cancels the pending one and
//     reschedules the timer. Only the most recent call runs; earlier callers
//     receive ErrSuperseded.
//   - Accumulate: each call appends an item and resets the key's timer. When
//     the timer fires the whole sequence is flushed once, in arrival order.
//
// A key never has more than one pending timer. Timer handles are owned by
// their batch entry and replaced on every call; a generation counter makes a
// fired-but-stale timer a no-op.
//
// Flushes are at-most-once: if a flush fails its items are not re-queued.
// Failures of timer-driven flushes go to Config.OnFlushError; an explicit
// Flush returns the error to its caller.
package batch
