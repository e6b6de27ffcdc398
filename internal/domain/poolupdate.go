package domain

import (
	"fmt"

	"github.com/holiman/uint256"

	"clearline/internal/wire"
)

const poolUpdateZeroForOne = 1 << 0

// PoolUpdate is one pool-state mutation decoded from the bundle and
// handed to the external pool collaborator. The reward payload is opaque
// to the engine.
type PoolUpdate struct {
	ZeroForOne bool
	PairIndex  uint16
	SwapIn     *uint256.Int
	RewardData []byte
}

// DecodePoolUpdate reads one pool update.
func DecodePoolUpdate(r *wire.Reader) (PoolUpdate, error) {
	var u PoolUpdate
	flags, err := r.U8()
	if err != nil {
		return u, err
	}
	if flags&^uint8(poolUpdateZeroForOne) != 0 {
		return u, fmt.Errorf("%w: pool update flags %#02x", ErrUnknownVariant, flags)
	}
	u.ZeroForOne = flags&poolUpdateZeroForOne != 0
	if u.PairIndex, err = r.U16(); err != nil {
		return u, err
	}
	if u.SwapIn, err = r.U128(); err != nil {
		return u, err
	}
	u.RewardData, err = r.PrefixedBytes()
	return u, err
}

// Encode appends the pool update to w.
func (u PoolUpdate) Encode(w *wire.Writer) error {
	var flags uint8
	if u.ZeroForOne {
		flags |= poolUpdateZeroForOne
	}
	w.U8(flags)
	w.U16(u.PairIndex)
	if err := w.U128(u.SwapIn); err != nil {
		return err
	}
	return w.PrefixedBytes(u.RewardData)
}

// DecodePoolUpdateList reads the u24-length-prefixed pool update section.
func DecodePoolUpdateList(r *wire.Reader) ([]PoolUpdate, error) {
	sec, err := r.Section()
	if err != nil {
		return nil, err
	}
	var updates []PoolUpdate
	for sec.Remaining() > 0 {
		u, err := DecodePoolUpdate(sec)
		if err != nil {
			return nil, fmt.Errorf("pool update %d: %w", len(updates), err)
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// EncodePoolUpdateList appends the u24-length-prefixed pool update
// section to w.
func EncodePoolUpdateList(w *wire.Writer, updates []PoolUpdate) error {
	sec := wire.NewWriter()
	for _, u := range updates {
		if err := u.Encode(sec); err != nil {
			return err
		}
	}
	return w.Section(sec)
}
