// Package cache provides the shared, bounded result cache for catalog reads.
//
// It provides a Cache interface with an insertion-ordered memory
// implementation, namespaced canonical-JSON key derivation, per-namespace
// TTL policies and a read-through middleware.
//
// Keys always start with a namespace tag ("libraryItems:", "search:", ...)
// so that everything derived from one operation type can be dropped with
// a prefix invalidation after a write.
package cache
