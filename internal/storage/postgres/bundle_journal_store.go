package postgres

import (
	"context"
	"fmt"
	"time"

	"clearline/internal/domain"
	"clearline/internal/observability"
	"clearline/internal/storage"
)

// BundleJournalStore implements storage.JournalStore using PostgreSQL.
type BundleJournalStore struct {
	pool *Pool
}

// NewBundleJournalStore creates a new BundleJournalStore.
func NewBundleJournalStore(pool *Pool) *BundleJournalStore {
	return &BundleJournalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JournalStore = (*BundleJournalStore)(nil)

// Insert adds a new bundle record. Returns ErrDuplicateKey if
// (window, bundle_hash) exists.
func (s *BundleJournalStore) Insert(ctx context.Context, rec *domain.BundleRecord) error {
	query := `
		INSERT INTO bundles (
			window_id, bundle_hash, submitter, priority_orders, user_orders, status, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	start := time.Now()
	err := s.pool.QueryRow(ctx, query,
		int64(rec.Window),
		rec.BundleHash,
		rec.Submitter,
		rec.PriorityOrders,
		rec.UserOrders,
		rec.Status,
		rec.Reason,
		rec.CreatedAt,
	).Scan(&rec.ID)
	observability.RecordDBQuery("postgres", "insert_bundle", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert bundle record: %w", err)
	}
	return nil
}

// GetByWindow retrieves all records for an execution window, ordered by
// creation time ASC.
func (s *BundleJournalStore) GetByWindow(ctx context.Context, window uint64) ([]*domain.BundleRecord, error) {
	query := `
		SELECT id, window_id, bundle_hash, submitter, priority_orders, user_orders, status, reason, created_at
		FROM bundles
		WHERE window_id = $1
		ORDER BY created_at ASC, id ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, int64(window))
	observability.RecordDBQuery("postgres", "get_bundles_by_window", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query bundles by window: %w", err)
	}
	defer rows.Close()

	var records []*domain.BundleRecord
	for rows.Next() {
		rec, err := scanBundleRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bundle rows: %w", err)
	}
	return records, nil
}

// GetByHash retrieves the most recent record for a bundle hash. Returns
// ErrNotFound if not exists.
func (s *BundleJournalStore) GetByHash(ctx context.Context, bundleHash string) (*domain.BundleRecord, error) {
	query := `
		SELECT id, window_id, bundle_hash, submitter, priority_orders, user_orders, status, reason, created_at
		FROM bundles
		WHERE bundle_hash = $1
		ORDER BY id DESC
		LIMIT 1
	`

	start := time.Now()
	row := s.pool.QueryRow(ctx, query, bundleHash)
	rec, err := scanBundleRecord(row)
	observability.RecordDBQuery("postgres", "get_bundle_by_hash", time.Since(start).Seconds(), err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBundleRecord(row rowScanner) (*domain.BundleRecord, error) {
	var rec domain.BundleRecord
	var window int64
	err := row.Scan(
		&rec.ID,
		&window,
		&rec.BundleHash,
		&rec.Submitter,
		&rec.PriorityOrders,
		&rec.UserOrders,
		&rec.Status,
		&rec.Reason,
		&rec.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan bundle record: %w", err)
	}
	rec.Window = uint64(window)
	return &rec, nil
}
