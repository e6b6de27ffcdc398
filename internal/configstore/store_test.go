package configstore

import (
	"context"
	"errors"
	"testing"

	"clearline/internal/domain"
	"clearline/internal/storage/memory"
)

func assetID(b byte) domain.AssetID {
	var id domain.AssetID
	id[0] = b
	return id
}

func testEntries() []Entry {
	return []Entry{
		{Key: DeriveKey(assetID(1), assetID(2)), TickSpacing: 60, BundleFee: 3000},
		{Key: DeriveKey(assetID(1), assetID(3)), TickSpacing: 10, BundleFee: 500},
	}
}

func loadEmpty(t *testing.T) (*Store, *memory.KV) {
	t.Helper()
	kv := memory.NewKV()
	s, err := Load(context.Background(), kv)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s, kv
}

func TestDeriveKey_CanonicalOrdering(t *testing.T) {
	if DeriveKey(assetID(1), assetID(2)) != DeriveKey(assetID(2), assetID(1)) {
		t.Errorf("key depends on argument order")
	}
	if DeriveKey(assetID(1), assetID(2)) == DeriveKey(assetID(1), assetID(3)) {
		t.Errorf("distinct pairs collide")
	}
}

func TestStore_EmptyOnFirstLoad(t *testing.T) {
	s, _ := loadEmpty(t)
	if n := s.TotalEntries(); n != 0 {
		t.Errorf("TotalEntries = %d, want 0", n)
	}
	if e := s.GetWithDefaultEmpty(PairKey{}, 0); !e.IsEmpty() {
		t.Errorf("expected empty sentinel, got %+v", e)
	}
}

func TestStore_StoreFromBufferAndGet(t *testing.T) {
	s, _ := loadEmpty(t)
	ctx := context.Background()
	entries := testEntries()

	if _, err := s.StoreFromBuffer(ctx, entries); err != nil {
		t.Fatalf("StoreFromBuffer failed: %v", err)
	}
	if n := s.TotalEntries(); n != len(entries) {
		t.Fatalf("TotalEntries = %d, want %d", n, len(entries))
	}

	for i, want := range entries {
		got := s.GetWithDefaultEmpty(want.Key, i)
		if got != want {
			t.Errorf("entry %d: got %+v, want %+v", i, got, want)
		}
	}

	// right index, wrong key -> zero sentinel
	if e := s.GetWithDefaultEmpty(entries[1].Key, 0); !e.IsEmpty() {
		t.Errorf("key mismatch must yield empty sentinel, got %+v", e)
	}
	// out of range index -> zero sentinel
	if e := s.GetWithDefaultEmpty(entries[0].Key, 99); !e.IsEmpty() {
		t.Errorf("out-of-range index must yield empty sentinel, got %+v", e)
	}
}

func TestStore_RebuildReplacesWholeSequence(t *testing.T) {
	s, _ := loadEmpty(t)
	ctx := context.Background()
	entries := testEntries()
	if _, err := s.StoreFromBuffer(ctx, entries); err != nil {
		t.Fatalf("StoreFromBuffer failed: %v", err)
	}

	buf := s.ReadToBuffer(1)
	if len(buf) != len(entries) {
		t.Fatalf("ReadToBuffer = %d entries, want %d", len(buf), len(entries))
	}
	added := Entry{Key: DeriveKey(assetID(2), assetID(3)), TickSpacing: 1, BundleFee: 100}
	buf = append(buf, added)
	if _, err := s.StoreFromBuffer(ctx, buf); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	if n := s.TotalEntries(); n != 3 {
		t.Fatalf("TotalEntries after rebuild = %d, want 3", n)
	}
	if got := s.GetWithDefaultEmpty(added.Key, 2); got != added {
		t.Errorf("appended entry: got %+v, want %+v", got, added)
	}
}

func TestStore_PersistsAcrossLoad(t *testing.T) {
	s, kv := loadEmpty(t)
	ctx := context.Background()
	entries := testEntries()
	handle, err := s.StoreFromBuffer(ctx, entries)
	if err != nil {
		t.Fatalf("StoreFromBuffer failed: %v", err)
	}
	if handle == ([32]byte{}) {
		t.Fatalf("zero handle returned")
	}

	s2, err := Load(ctx, kv)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if n := s2.TotalEntries(); n != len(entries) {
		t.Fatalf("TotalEntries after reload = %d, want %d", n, len(entries))
	}
	if got := s2.GetWithDefaultEmpty(entries[0].Key, 0); got != entries[0] {
		t.Errorf("entry 0 after reload: got %+v, want %+v", got, entries[0])
	}
}

func TestStore_RejectsFeeAboveMax(t *testing.T) {
	s, _ := loadEmpty(t)
	bad := []Entry{{Key: DeriveKey(assetID(1), assetID(2)), TickSpacing: 60, BundleFee: MaxBundleFee + 1}}
	if _, err := s.StoreFromBuffer(context.Background(), bad); !errors.Is(err, ErrFeeAboveMax) {
		t.Fatalf("expected ErrFeeAboveMax, got %v", err)
	}
	// failed deploy leaves the prior (empty) store live
	if n := s.TotalEntries(); n != 0 {
		t.Errorf("TotalEntries after failed deploy = %d, want 0", n)
	}
}

func TestStore_RejectsZeroTickSpacing(t *testing.T) {
	s, _ := loadEmpty(t)
	bad := []Entry{{Key: DeriveKey(assetID(1), assetID(2)), TickSpacing: 0, BundleFee: 500}}
	if _, err := s.StoreFromBuffer(context.Background(), bad); !errors.Is(err, ErrZeroTickSpacing) {
		t.Fatalf("expected ErrZeroTickSpacing, got %v", err)
	}
	if n := s.TotalEntries(); n != 0 {
		t.Errorf("TotalEntries after failed deploy = %d, want 0", n)
	}
}
