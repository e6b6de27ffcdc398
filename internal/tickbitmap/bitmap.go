// Package tickbitmap implements the bit-search primitives used to locate
// the next active liquidity boundary of a pool. A 256-bit word holds one
// "initialized" flag per compressed tick; lookups are bit scans over a
// masked word.
package tickbitmap

import (
	"math/bits"

	"github.com/holiman/uint256"
)

// NotFoundGte is the position NextBitPosGte reports when no bit at or
// above the start is set.
const NotFoundGte = 255

// lsb returns the index of the lowest set bit of a non-zero word.
func lsb(w *uint256.Int) uint8 {
	for i := 0; i < 4; i++ {
		if w[i] != 0 {
			return uint8(i*64 + bits.TrailingZeros64(w[i]))
		}
	}
	return 0
}

// msb returns the index of the highest set bit of a non-zero word.
func msb(w *uint256.Int) uint8 {
	return uint8(w.BitLen() - 1)
}

// NextBitPosGte finds the lowest set bit of word at or above bitPos.
// When no such bit exists it returns (NotFoundGte, false).
func NextBitPosGte(word *uint256.Int, bitPos uint8) (uint8, bool) {
	masked := new(uint256.Int).Rsh(word, uint(bitPos))
	if masked.IsZero() {
		return NotFoundGte, false
	}
	return bitPos + lsb(masked), true
}

// NextBitPosLte finds the highest set bit of word at or below bitPos.
// When no such bit exists it returns (0, false).
func NextBitPosLte(word *uint256.Int, bitPos uint8) (uint8, bool) {
	masked := new(uint256.Int).Lsh(word, 255-uint(bitPos))
	if masked.IsZero() {
		return 0, false
	}
	return bitPos - (255 - msb(masked)), true
}

// Compress maps a tick to its spacing-bucketed representative, rounding
// toward negative infinity. Truncating division would round toward zero
// and mis-bucket negative ticks.
func Compress(tick, spacing int32) int32 {
	c := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		c--
	}
	return c
}

// Normalize returns the lowest tick of the spacing bucket containing
// tick.
func Normalize(tick, spacing int32) int32 {
	return Compress(tick, spacing) * spacing
}

// Position splits a compressed tick into its (word, bit) coordinates.
func Position(compressed int32) (wordPos int16, bitPos uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

// ToTick is the inverse of Position composed with Compress: it rebuilds
// the tick from its (word, bit) coordinates at the given spacing.
func ToTick(wordPos int16, bitPos uint8, spacing int32) int32 {
	return (int32(wordPos)*256 + int32(bitPos)) * spacing
}
