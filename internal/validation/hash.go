// Package validation verifies order authenticity and enforces the
// at-most-once consumption rules: content-hash invalidation for flash
// orders and sparse nonce bitfields plus deadlines for standing orders.
package validation

import (
	"crypto/sha256"
	"fmt"

	"clearline/internal/domain"
	"clearline/internal/wire"
)

// protocolName and protocolVersion are bound into every signing hash so
// a signature can never be replayed against another protocol or an
// incompatible release.
const (
	protocolName    = "clearline"
	protocolVersion = "1"
)

// Domain is the separation context of one deployed engine instance.
// Signing hashes bind the engine identity and chain id, preventing
// cross-deployment replay.
type Domain struct {
	Engine  domain.Address
	ChainID uint64
}

// Separator returns the domain separator hash.
func (d Domain) Separator() [32]byte {
	h := sha256.New()
	h.Write([]byte(protocolName))
	h.Write([]byte{0})
	h.Write([]byte(protocolVersion))
	h.Write([]byte{0})
	var chain [8]byte
	for i := 0; i < 8; i++ {
		chain[i] = byte(d.ChainID >> (56 - 8*i))
	}
	h.Write(chain[:])
	h.Write(d.Engine[:])
	var sep [32]byte
	copy(sep[:], h.Sum(nil))
	return sep
}

func (d Domain) hash(tag string, content []byte) [32]byte {
	sep := d.Separator()
	h := sha256.New()
	h.Write(sep[:])
	h.Write([]byte(tag))
	h.Write([]byte{0})
	h.Write(content)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TopOfBlockSigningHash computes the structured hash a priority order's
// signer commits to. The hash covers the resolved asset identities (not
// bundle-local indices) and the execution window, so a signed order is
// meaningless in any other bundle context.
func (d Domain) TopOfBlockSigningHash(o *domain.TopOfBlockOrder, assets []domain.Asset, pairs []domain.Pair, window uint64) ([32]byte, error) {
	if int(o.PairIndex) >= len(pairs) {
		return [32]byte{}, fmt.Errorf("%w: priority order pair index %d with %d pairs",
			domain.ErrPairIndexOutOfRange, o.PairIndex, len(pairs))
	}
	assetIn, assetOut, err := pairs[o.PairIndex].InOut(assets, o.ZeroForOne)
	if err != nil {
		return [32]byte{}, err
	}

	w := wire.NewWriter()
	w.ID32([32]byte(assetIn))
	w.ID32([32]byte(assetOut))
	if err := w.U128(o.QuantityIn); err != nil {
		return [32]byte{}, err
	}
	if err := w.U128(o.QuantityOut); err != nil {
		return [32]byte{}, err
	}
	if err := w.U128(o.MaxGasAsset0); err != nil {
		return [32]byte{}, err
	}
	w.U8(boolByte(o.UseInternal))
	w.ID32([32]byte(o.Recipient))
	w.U64(window)
	return d.hash("tob", w.Bytes()), nil
}

// UserSigningHash computes the structured hash a user order's signer
// commits to. Flash orders bind the execution window; standing orders
// bind their nonce and deadline instead.
func (d Domain) UserSigningHash(o *domain.UserOrder, assets []domain.Asset, pairs []domain.Pair, window uint64) ([32]byte, error) {
	if int(o.PairIndex) >= len(pairs) {
		return [32]byte{}, fmt.Errorf("%w: user order pair index %d with %d pairs",
			domain.ErrPairIndexOutOfRange, o.PairIndex, len(pairs))
	}
	assetIn, assetOut, err := pairs[o.PairIndex].InOut(assets, o.ZeroForOne)
	if err != nil {
		return [32]byte{}, err
	}

	w := wire.NewWriter()
	w.U32(o.RefID)
	w.ID32([32]byte(assetIn))
	w.ID32([32]byte(assetOut))
	w.U256(o.MinPrice)
	w.U8(boolByte(o.UseInternal))
	w.U8(boolByte(o.ExactIn))
	w.ID32([32]byte(o.Recipient))
	if err := w.PrefixedBytes(o.HookPayload); err != nil {
		return [32]byte{}, err
	}
	if o.Standing != nil {
		w.U8(1)
		w.U64(o.Standing.Nonce)
		if err := w.U40(o.Standing.Deadline); err != nil {
			return [32]byte{}, err
		}
	} else {
		w.U8(0)
		w.U64(window)
	}
	q := o.Quantities
	if q.Partial {
		w.U8(1)
		if err := w.U128(q.MinQuantityIn); err != nil {
			return [32]byte{}, err
		}
		if err := w.U128(q.MaxQuantityIn); err != nil {
			return [32]byte{}, err
		}
	} else {
		w.U8(0)
		if err := w.U128(q.Quantity); err != nil {
			return [32]byte{}, err
		}
	}
	if err := w.U128(o.MaxExtraFee0); err != nil {
		return [32]byte{}, err
	}
	return d.hash("user", w.Bytes()), nil
}

// FlashIdentity derives the replay identity of a window-bound order: the
// hash of its signed content plus the recovered signer.
func FlashIdentity(signingHash [32]byte, signer domain.Address) [32]byte {
	h := sha256.New()
	h.Write(signingHash[:])
	h.Write(signer[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
