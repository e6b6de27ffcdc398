// Package memory provides the in-memory storage.KV implementation used
// in tests and single-shot tooling.
package memory

import (
	"context"
	"sync"

	"clearline/internal/storage"
)

// KV is an in-memory implementation of storage.KV.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKV creates a new empty in-memory store.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Compile-time interface check.
var _ storage.KV = (*KV)(nil)

// Get returns the value for key. Returns ErrNotFound if absent.
func (s *KV) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[string(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Begin opens a read-write transaction with an overlay of staged writes.
func (s *KV) Begin(_ context.Context) (storage.Txn, error) {
	return &txn{
		store:   s,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}, nil
}

// Close releases the store.
func (s *KV) Close() error {
	return nil
}

// txn stages writes in overlay maps and applies them under the store
// lock on Commit.
type txn struct {
	store   *KV
	writes  map[string][]byte
	deletes map[string]struct{}
	done    bool
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, storage.ErrTxnDone
	}
	k := string(key)
	if _, deleted := t.deletes[k]; deleted {
		return nil, storage.ErrNotFound
	}
	if v, ok := t.writes[k]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return t.store.Get(ctx, key)
}

func (t *txn) Set(_ context.Context, key, value []byte) error {
	if t.done {
		return storage.ErrTxnDone
	}
	k := string(key)
	delete(t.deletes, k)
	v := make([]byte, len(value))
	copy(v, value)
	t.writes[k] = v
	return nil
}

func (t *txn) Delete(_ context.Context, key []byte) error {
	if t.done {
		return storage.ErrTxnDone
	}
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *txn) Commit(_ context.Context) error {
	if t.done {
		return storage.ErrTxnDone
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k := range t.deletes {
		delete(t.store.data, k)
	}
	for k, v := range t.writes {
		t.store.data[k] = v
	}
	return nil
}

func (t *txn) Discard() {
	t.done = true
}
