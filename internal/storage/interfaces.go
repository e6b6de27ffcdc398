// Package storage defines the persistence interfaces of the engine: a
// transactional key-value store for process-wide state (replay records,
// internal balances, config blobs, authorization sets) and the execution
// journal.
package storage

import (
	"context"

	"clearline/internal/domain"
)

// KV is a transactional key-value store. All engine state mutations go
// through a single Txn per bundle so the bundle commits or discards as a
// unit.
type KV interface {
	// Get returns the value for key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Begin opens a read-write transaction over the current state.
	Begin(ctx context.Context) (Txn, error)

	// Close releases the store.
	Close() error
}

// Txn is a read-write transaction. Reads observe the base state plus the
// transaction's own writes. Nothing is visible to other readers until
// Commit.
type Txn interface {
	// Get returns the value for key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stages a write of key to value.
	Set(ctx context.Context, key, value []byte) error

	// Delete stages removal of key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key []byte) error

	// Commit applies all staged writes atomically.
	Commit(ctx context.Context) error

	// Discard drops all staged writes. Safe to call after Commit.
	Discard()
}

// JournalStore records one BundleRecord per submitted bundle.
type JournalStore interface {
	// Insert adds a new bundle record. Returns ErrDuplicateKey if
	// (window, bundle_hash) exists.
	Insert(ctx context.Context, rec *domain.BundleRecord) error

	// GetByWindow retrieves all records for an execution window, ordered
	// by creation time ASC.
	GetByWindow(ctx context.Context, window uint64) ([]*domain.BundleRecord, error)

	// GetByHash retrieves a record by bundle hash. Returns ErrNotFound if
	// not exists.
	GetByHash(ctx context.Context, bundleHash string) (*domain.BundleRecord, error)
}
