// Package store defines the transactional document store the billing engine
// runs against.
//
// The contract is deliberately small: a transaction callback with reads and
// buffered writes, plus a handful of non-transactional document calls. Every
// backend (memory, postgres, mongo, redis) implements it with the same
// optimistic read-version check, driven by RunOptimistic.
package store

import "context"

// TxFunc is the body of a transaction. Returning an error aborts the
// transaction and discards every buffered write.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence boundary of the engine.
type Store interface {
	// RunTransaction runs fn inside an all-or-nothing scope. fn may be
	// invoked more than once when a concurrent writer invalidates a read;
	// only the final invocation's writes become visible.
	RunTransaction(ctx context.Context, fn TxFunc) error

	// GetDoc reads one document outside any transaction. A missing
	// document is reported through Snapshot.Exists, not an error.
	GetDoc(ctx context.Context, ref Ref) (Snapshot, error)

	// SetDoc replaces one document outside any transaction.
	SetDoc(ctx context.Context, ref Ref, data map[string]any) error

	// ListDocs returns every document directly under a collection path,
	// ordered by document id.
	ListDocs(ctx context.Context, collection Ref) ([]Snapshot, error)

	// Migrate prepares the backend schema (tables, indexes). Idempotent.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Tx is the handle a transaction body reads and writes through.
// Writes are buffered and applied atomically on commit; reads observe the
// transaction's own earlier writes.
type Tx interface {
	// Get reads a document, recording the observed version for the
	// commit-time conflict check.
	Get(ctx context.Context, ref Ref) (Snapshot, error)

	// Update merges top-level fields into an existing document.
	// It fails with ErrNoDocument when the document does not exist.
	Update(ctx context.Context, ref Ref, fields map[string]any) error

	// Set replaces a document, creating it when absent.
	Set(ctx context.Context, ref Ref, data map[string]any) error

	// Create writes a document that must not exist yet. An existing
	// document fails the transaction with ErrAlreadyExists.
	Create(ctx context.Context, ref Ref, data map[string]any) error
}

// Snapshot is the state of one document at read time.
type Snapshot struct {
	Ref     Ref
	Exists  bool
	Data    map[string]any
	Version int64 // 0 when the document does not exist
}
