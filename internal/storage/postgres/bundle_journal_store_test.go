package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearline/internal/domain"
	"clearline/internal/storage"
)

func testBundleRecord(window uint64, hash string) *domain.BundleRecord {
	return &domain.BundleRecord{
		Window:         window,
		BundleHash:     hash,
		Submitter:      "NodeAddr1111111111111111111111111111111111",
		PriorityOrders: 1,
		UserOrders:     3,
		Status:         domain.BundleStatusApplied,
		CreatedAt:      1700000000000,
	}
}

func TestBundleJournalStore_InsertAndGetByHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBundleJournalStore(pool)

	rec := testBundleRecord(10, "aabbccdd001")
	require.NoError(t, store.Insert(ctx, rec))
	assert.NotZero(t, rec.ID, "insert should populate the record id")

	got, err := store.GetByHash(ctx, "aabbccdd001")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Window)
	assert.Equal(t, rec.Submitter, got.Submitter)
	assert.Equal(t, 1, got.PriorityOrders)
	assert.Equal(t, 3, got.UserOrders)
	assert.Equal(t, domain.BundleStatusApplied, got.Status)
	assert.Empty(t, got.Reason)
}

func TestBundleJournalStore_DuplicateWindowHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBundleJournalStore(pool)

	require.NoError(t, store.Insert(ctx, testBundleRecord(10, "aabbccdd002")))

	err := store.Insert(ctx, testBundleRecord(10, "aabbccdd002"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// The same hash in another window is a distinct record.
	require.NoError(t, store.Insert(ctx, testBundleRecord(11, "aabbccdd002")))
}

func TestBundleJournalStore_GetByWindow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBundleJournalStore(pool)

	first := testBundleRecord(20, "hash-a")
	first.CreatedAt = 1700000000000

	second := testBundleRecord(20, "hash-b")
	second.Status = domain.BundleStatusRejected
	second.Reason = "limit price violated"
	second.CreatedAt = 1700000001000

	other := testBundleRecord(21, "hash-c")

	require.NoError(t, store.Insert(ctx, first))
	require.NoError(t, store.Insert(ctx, second))
	require.NoError(t, store.Insert(ctx, other))

	records, err := store.GetByWindow(ctx, 20)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hash-a", records[0].BundleHash)
	assert.Equal(t, "hash-b", records[1].BundleHash)
	assert.Equal(t, "limit price violated", records[1].Reason)

	records, err = store.GetByWindow(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBundleJournalStore_GetByHashNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewBundleJournalStore(pool).GetByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
