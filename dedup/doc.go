// Package dedup collapses concurrent identical requests into one execution.
//
// Group keys an in-flight call by its request identity. While a call for a
// key is running, later callers with the same key attach to it and receive
// the identical result or error instead of starting their own execution.
// Once the call completes the key is released and the next caller starts
// fresh.
//
// A caller that stops waiting (its context ends) does not abort the shared
// execution; the remaining waiters still observe its outcome.
package dedup
