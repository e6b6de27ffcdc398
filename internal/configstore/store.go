package configstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync/atomic"

	"clearline/internal/storage"
)

// KV keys for the persisted store. The current handle is a pointer to
// the blob written under its own content hash, so an interrupted deploy
// can never corrupt the live table.
var (
	keyCurrentHandle = []byte("config/current")
	blobKeyPrefix    = []byte("config/blob/")
)

// blobSafetyByte guards against misreading an empty value as a blob; the
// decoder requires it as the first byte of every stored blob.
const blobSafetyByte = 0x00

// Store is the live configuration table. The active blob is behind an
// atomic pointer: bundle execution reads whatever blob is current at
// pair-resolution time, and governance writes replace the whole blob at
// once.
type Store struct {
	kv   storage.KV
	blob atomic.Pointer[[]byte]
}

func blobKey(handle [32]byte) []byte {
	return append(append([]byte{}, blobKeyPrefix...), handle[:]...)
}

// Load opens the store over kv, reading the currently deployed blob. A
// store that was never written starts empty.
func Load(ctx context.Context, kv storage.KV) (*Store, error) {
	s := &Store{kv: kv}
	empty := []byte{}
	s.blob.Store(&empty)

	handleBytes, err := kv.Get(ctx, keyCurrentHandle)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("configstore: read handle: %w", err)
	}
	if len(handleBytes) != 32 {
		return nil, fmt.Errorf("%w: handle is %d bytes", ErrCorruptBlob, len(handleBytes))
	}
	var handle [32]byte
	copy(handle[:], handleBytes)

	raw, err := kv.Get(ctx, blobKey(handle))
	if err != nil {
		return nil, fmt.Errorf("configstore: read blob %x: %w", handle, err)
	}
	if _, err := parseBlob(raw); err != nil {
		return nil, err
	}
	body := raw[1:]
	s.blob.Store(&body)
	return s, nil
}

func parseBlob(raw []byte) ([]Entry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] != blobSafetyByte {
		return nil, fmt.Errorf("%w: missing safety byte", ErrCorruptBlob)
	}
	body := raw[1:]
	if len(body)%EntrySize != 0 {
		return nil, fmt.Errorf("%w: %d body bytes", ErrCorruptBlob, len(body))
	}
	entries := make([]Entry, 0, len(body)/EntrySize)
	for off := 0; off < len(body); off += EntrySize {
		entries = append(entries, decodeEntry(body[off:off+EntrySize]))
	}
	return entries, nil
}

// TotalEntries derives the entry count from the active blob's byte
// length.
func (s *Store) TotalEntries() int {
	return len(*s.blob.Load()) / EntrySize
}

// GetWithDefaultEmpty reads the entry at index and returns it iff its
// key matches; a present-but-different key and an out-of-range index
// both yield the all-zero sentinel. Distinguishing the two is the
// caller's job via Entry.IsEmpty.
func (s *Store) GetWithDefaultEmpty(key PairKey, index int) Entry {
	body := *s.blob.Load()
	off := index * EntrySize
	if index < 0 || off+EntrySize > len(body) {
		return Entry{}
	}
	e := decodeEntry(body[off : off+EntrySize])
	if e.Key != key {
		return Entry{}
	}
	return e
}

// ReadToBuffer materializes the whole entry sequence into a mutable
// slice with capacity for extra appended entries.
func (s *Store) ReadToBuffer(extra int) []Entry {
	body := *s.blob.Load()
	entries := make([]Entry, 0, len(body)/EntrySize+extra)
	for off := 0; off < len(body); off += EntrySize {
		entries = append(entries, decodeEntry(body[off:off+EntrySize]))
	}
	return entries
}

// StoreFromBuffer deploys a brand-new blob holding exactly the given
// entries and atomically swaps the live handle to it. On any failure the
// prior blob and handle remain live. Returns the new blob's handle.
func (s *Store) StoreFromBuffer(ctx context.Context, entries []Entry) ([32]byte, error) {
	var handle [32]byte
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return handle, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	raw := make([]byte, 1+len(entries)*EntrySize)
	raw[0] = blobSafetyByte
	for i, e := range entries {
		e.encode(raw[1+i*EntrySize:])
	}
	handle = sha256.Sum256(raw)

	txn, err := s.kv.Begin(ctx)
	if err != nil {
		return handle, fmt.Errorf("%w: %v", ErrFailedToDeployNewStore, err)
	}
	defer txn.Discard()
	if err := txn.Set(ctx, blobKey(handle), raw); err != nil {
		return handle, fmt.Errorf("%w: %v", ErrFailedToDeployNewStore, err)
	}
	if err := txn.Set(ctx, keyCurrentHandle, handle[:]); err != nil {
		return handle, fmt.Errorf("%w: %v", ErrFailedToDeployNewStore, err)
	}
	if err := txn.Commit(ctx); err != nil {
		return handle, fmt.Errorf("%w: %v", ErrFailedToDeployNewStore, err)
	}

	body := raw[1:]
	s.blob.Store(&body)
	return handle, nil
}
