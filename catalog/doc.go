// Package catalog is the data-access facade for large media libraries.
//
// A Service sits in front of a Source (the remote API client or the local
// SQLite repository) and routes every call through the same pipeline:
//
//   - reads check the shared cache first; a hit returns without touching
//     the source
//   - on a miss, concurrent identical requests collapse into one call that
//     is admitted by the scheduler, retried on transient failures and
//     written back to the cache with a namespace-specific TTL
//   - searches are debounced per library so that typing "a", "ab", "abc"
//     reaches the source once, for "abc"
//   - progress updates accumulate and are written together once the flush
//     window goes quiet, then the progress namespaces are invalidated
//
// Construct one Service per session and call Shutdown on logout or exit.
package catalog
