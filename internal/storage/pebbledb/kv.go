// Package pebbledb provides the durable storage.KV implementation backed
// by a Pebble LSM store. The daemon uses it for all process-wide engine
// state: nonce bitfields, consumed order hashes, internal balances, and
// config store blobs.
package pebbledb

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"clearline/internal/storage"
)

// KV is a Pebble-backed implementation of storage.KV.
type KV struct {
	db *pebble.DB
}

// Open opens (or creates) the store at dir.
func Open(dir string) (*KV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &KV{db: db}, nil
}

// Compile-time interface check.
var _ storage.KV = (*KV)(nil)

// Get returns the value for key. Returns ErrNotFound if absent.
func (s *KV) Get(_ context.Context, key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("pebble get close: %w", err)
	}
	return out, nil
}

// Begin opens a read-write transaction backed by an indexed batch, so
// reads inside the transaction observe its own staged writes.
func (s *KV) Begin(_ context.Context) (storage.Txn, error) {
	return &txn{batch: s.db.NewIndexedBatch()}, nil
}

// Close closes the underlying database.
func (s *KV) Close() error {
	return s.db.Close()
}

type txn struct {
	batch *pebble.Batch
	done  bool
}

func (t *txn) Get(_ context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, storage.ErrTxnDone
	}
	v, closer, err := t.batch.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("pebble batch get: %w", err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("pebble batch get close: %w", err)
	}
	return out, nil
}

func (t *txn) Set(_ context.Context, key, value []byte) error {
	if t.done {
		return storage.ErrTxnDone
	}
	return t.batch.Set(key, value, nil)
}

func (t *txn) Delete(_ context.Context, key []byte) error {
	if t.done {
		return storage.ErrTxnDone
	}
	return t.batch.Delete(key, nil)
}

func (t *txn) Commit(_ context.Context) error {
	if t.done {
		return storage.ErrTxnDone
	}
	t.done = true
	// durability matters here: replay records must survive a crash
	if err := t.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return t.batch.Close()
}

func (t *txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	_ = t.batch.Close()
}
