// Package configstore implements the per-pair parameter table: a packed
// immutable blob of fixed-width entries addressed by index, rebuilt
// wholesale on every governance write and swapped in atomically. Reads
// are O(1) against the current blob; the store confirms a key match, it
// never searches.
package configstore

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"clearline/internal/domain"
)

var (
	// ErrNoEntry is returned when the entry at a claimed index does not
	// carry the expected pair key.
	ErrNoEntry = errors.New("configstore: no entry for pair at index")

	// ErrFeeAboveMax is returned when a governance write carries a bundle
	// fee above MaxBundleFee.
	ErrFeeAboveMax = errors.New("configstore: fee above max")

	// ErrZeroTickSpacing is returned when a governance write carries a
	// zero tick spacing, which would make tick compression divide by
	// zero.
	ErrZeroTickSpacing = errors.New("configstore: tick spacing must be nonzero")

	// ErrFailedToDeployNewStore is returned when persisting a rebuilt blob
	// fails. The previous blob and handle stay untouched.
	ErrFailedToDeployNewStore = errors.New("configstore: failed to deploy new store")

	// ErrCorruptBlob is returned when a loaded blob has an invalid shape.
	ErrCorruptBlob = errors.New("configstore: corrupt blob")
)

// EntrySize is the packed width of one entry: 27-byte pair key, u16 tick
// spacing, u24 bundle fee.
const EntrySize = 32

// MaxBundleFee is the largest admissible bundle fee, in parts per
// million.
const MaxBundleFee = 1_000_000

// PairKey identifies a trading pair inside the store: the trailing 27
// bytes of sha256 over the two asset ids in canonical (ascending) order.
type PairKey [27]byte

// DeriveKey computes the store key for two asset ids. The caller does
// not need to order them; the smaller id hashes first.
func DeriveKey(a, b domain.AssetID) PairKey {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	sum := h.Sum(nil)
	var k PairKey
	copy(k[:], sum[5:32])
	return k
}

// Entry is one decoded store record.
type Entry struct {
	Key         PairKey
	TickSpacing uint16
	BundleFee   uint32 // parts per million
}

// IsEmpty reports whether the entry is the all-zero sentinel returned
// for a key mismatch.
func (e Entry) IsEmpty() bool {
	return e == Entry{}
}

func (e Entry) encode(dst []byte) {
	copy(dst[:27], e.Key[:])
	dst[27] = byte(e.TickSpacing >> 8)
	dst[28] = byte(e.TickSpacing)
	dst[29] = byte(e.BundleFee >> 16)
	dst[30] = byte(e.BundleFee >> 8)
	dst[31] = byte(e.BundleFee)
}

func decodeEntry(src []byte) Entry {
	var e Entry
	copy(e.Key[:], src[:27])
	e.TickSpacing = uint16(src[27])<<8 | uint16(src[28])
	e.BundleFee = uint32(src[29])<<16 | uint32(src[30])<<8 | uint32(src[31])
	return e
}

// Validate checks governance input ranges for a new entry.
func (e Entry) Validate() error {
	if e.BundleFee > MaxBundleFee {
		return fmt.Errorf("%w: %d ppm", ErrFeeAboveMax, e.BundleFee)
	}
	if e.TickSpacing == 0 {
		return ErrZeroTickSpacing
	}
	return nil
}
