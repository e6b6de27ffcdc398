package validation

import (
	"context"
	"errors"
	"fmt"

	"clearline/internal/domain"
	"clearline/internal/storage"
)

var (
	// ErrAlreadyInvalidated is returned when a flash order's content hash
	// was consumed by an earlier bundle or earlier in this bundle.
	ErrAlreadyInvalidated = errors.New("validation: order already invalidated")

	// ErrNonceAlreadyUsed is returned when a standing order's (signer,
	// nonce) slot was consumed before.
	ErrNonceAlreadyUsed = errors.New("validation: nonce already used")
)

// KV key prefixes for replay records.
var (
	usedHashPrefix  = []byte("replay/hash/")
	nonceWordPrefix = []byte("replay/nonce/")
)

// Guard consumes replay slots inside a bundle's transaction. Because all
// writes stage in the same transaction as the rest of the bundle's
// effects, a failed bundle consumes nothing.
type Guard struct {
	txn storage.Txn
}

// NewGuard wraps the bundle transaction.
func NewGuard(txn storage.Txn) *Guard {
	return &Guard{txn: txn}
}

// UseFlashHash marks a flash order identity consumed. Fails with
// ErrAlreadyInvalidated if the hash was ever consumed before.
func (g *Guard) UseFlashHash(ctx context.Context, id [32]byte) error {
	key := append(append([]byte{}, usedHashPrefix...), id[:]...)
	_, err := g.txn.Get(ctx, key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %x", ErrAlreadyInvalidated, id)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("read used hash: %w", err)
	}
	return g.txn.Set(ctx, key, []byte{1})
}

// nonceWordKey addresses the 256-bit bitfield word holding a nonce's
// bit. Nonces are sparse: only words with at least one consumed bit
// exist.
func nonceWordKey(signer domain.Address, nonce uint64) []byte {
	word := nonce >> 8
	key := make([]byte, 0, len(nonceWordPrefix)+32+8)
	key = append(key, nonceWordPrefix...)
	key = append(key, signer[:]...)
	for i := 0; i < 8; i++ {
		key = append(key, byte(word>>(56-8*i)))
	}
	return key
}

// UseNonce consumes the (signer, nonce) slot. Fails with
// ErrNonceAlreadyUsed if its bit is already set. Gaps are allowed; the
// bitfield is sparse, not sequential.
func (g *Guard) UseNonce(ctx context.Context, signer domain.Address, nonce uint64) error {
	key := nonceWordKey(signer, nonce)
	word := make([]byte, 32)
	existing, err := g.txn.Get(ctx, key)
	switch {
	case err == nil:
		copy(word, existing)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("read nonce word: %w", err)
	}

	bit := nonce & 0xff
	byteIdx := bit / 8
	mask := byte(1) << (bit % 8)
	if word[byteIdx]&mask != 0 {
		return fmt.Errorf("%w: signer %s nonce %d", ErrNonceAlreadyUsed, signer, nonce)
	}
	word[byteIdx] |= mask
	return g.txn.Set(ctx, key, word)
}
