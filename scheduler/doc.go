// Package scheduler queues, executes and retries outbound operations under a
// fixed concurrency ceiling.
//
// Every admitted operation moves through an explicit state machine:
//
//	Queued → Executing → Succeeded | Failed | Cancelled
//	                   → Retrying → Queued
//
// Admission is FIFO. Whenever a slot is free and the queue is non-empty the
// head is started, so concurrency stays pinned at the ceiling. Each attempt
// runs under its own deadline; a timeout is a retryable failure. A failure
// classified retryable by the RetryPolicy waits out its backoff and re-enters
// at the front of the queue, ahead of work that arrived after it. When the
// retry budget is spent the caller receives resilience.ExhaustedRetriesError;
// terminal failures are delivered unchanged.
//
// Shutdown aborts executing attempts, cancels queued and backing-off work and
// rejects new submissions with ErrClosed.
package scheduler
