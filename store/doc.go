// Package store is the local persisted store: an embedded SQLite database
// opened through gorm, and a Repository that implements catalog.Source on
// top of it.
//
// The database runs in WAL mode with a busy timeout. Lock and busy errors
// surface as transient resilience.StoreError values so the scheduler can
// retry them; every other store failure is terminal.
//
// Bulk writes are chunked multi-row INSERT OR REPLACE statements executed
// in a single transaction.
package store
