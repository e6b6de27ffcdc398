// Package domain defines the bundle-scoped value types of the settlement
// engine: assets, pairs, the two order kinds, and their packed wire
// encodings.
package domain

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

// Address is a 32-byte account identity. For orders signed with the
// ed25519 scheme it is the signer's public key.
type Address [32]byte

// ZeroAddress is the all-zero sentinel address.
var ZeroAddress Address

// IsZero reports whether the address is the zero sentinel.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String renders the address in canonical base58.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// ParseAddress decodes a base58 address string.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("parse address: got %d bytes, want %d", len(b), len(a))
	}
	copy(a[:], b)
	return a, nil
}

// AssetID is a 32-byte fungible token identity.
type AssetID [32]byte

// String renders the asset id in canonical base58.
func (id AssetID) String() string {
	return base58.Encode(id[:])
}

// Cmp compares two asset ids lexicographically.
func (id AssetID) Cmp(other AssetID) int {
	return bytes.Compare(id[:], other[:])
}
