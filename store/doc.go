// Package store provides the persistence gateway for run metadata and
// research content.
//
// The SQLite implementation (modernc.org/sqlite, pure Go) wraps every read
// and write in a bounded retry policy: transient busy/locked conditions are
// retried with exponentially doubling backoff while all other errors
// propagate unmodified. An in-memory implementation with the same contract
// backs tests and ephemeral setups.
package store
