package memory

import (
	"context"
	"errors"
	"testing"

	"clearline/internal/storage"
)

func TestKV_GetNotFound(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	if _, err := kv.Get(ctx, []byte("missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKV_TxnCommitVisibility(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	txn, err := kv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := txn.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// staged write visible inside the txn
	got, err := txn.Get(ctx, []byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("txn Get = %q, %v", got, err)
	}

	// not visible outside before commit
	if _, err := kv.Get(ctx, []byte("k")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("uncommitted write leaked: %v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	got, err = kv.Get(ctx, []byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("Get after commit = %q, %v", got, err)
	}
}

func TestKV_TxnDiscard(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	txn, _ := kv.Begin(ctx)
	if err := txn.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	txn.Discard()

	if _, err := kv.Get(ctx, []byte("k")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("discarded write leaked: %v", err)
	}
	if err := txn.Commit(ctx); !errors.Is(err, storage.ErrTxnDone) {
		t.Fatalf("expected ErrTxnDone after Discard, got %v", err)
	}
}

func TestKV_TxnDeleteShadowsBase(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	txn, _ := kv.Begin(ctx)
	txn.Set(ctx, []byte("k"), []byte("v"))
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	txn2, _ := kv.Begin(ctx)
	if err := txn2.Delete(ctx, []byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := txn2.Get(ctx, []byte("k")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete not visible in txn: %v", err)
	}
	if err := txn2.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, err := kv.Get(ctx, []byte("k")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete not applied: %v", err)
	}
}

func TestKV_ValueCopyIsolation(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	val := []byte("abc")
	txn, _ := kv.Begin(ctx)
	txn.Set(ctx, []byte("k"), val)
	val[0] = 'x' // caller mutation after Set must not leak in
	txn.Commit(ctx)

	got, err := kv.Get(ctx, []byte("k"))
	if err != nil || string(got) != "abc" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	got[0] = 'y' // returned slice mutation must not leak back
	got2, _ := kv.Get(ctx, []byte("k"))
	if string(got2) != "abc" {
		t.Fatalf("store value mutated through returned slice: %q", got2)
	}
}
