package domain

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"clearline/internal/wire"
)

// ErrPairIndexOutOfRange is returned when a pair references an asset
// index beyond the bundle's asset list, or an order references a pair
// index beyond the pair list.
var ErrPairIndexOutOfRange = errors.New("domain: index out of range")

// PairWireSize is the encoded size of one Pair record.
const PairWireSize = 2 + 2 + 2 + 32

// Pair is an ordered tuple of two asset-list indices plus the config
// store index the builder claims for the pair, and the pool's clearing
// price of asset1 in terms of asset0, X128 fixed point.
type Pair struct {
	Index0      uint16
	Index1      uint16
	StoreIndex  uint16
	Price1Over0 *uint256.Int
}

// DecodePair reads one Pair record.
func DecodePair(r *wire.Reader) (Pair, error) {
	var p Pair
	var err error
	if p.Index0, err = r.U16(); err != nil {
		return p, err
	}
	if p.Index1, err = r.U16(); err != nil {
		return p, err
	}
	if p.StoreIndex, err = r.U16(); err != nil {
		return p, err
	}
	if p.Price1Over0, err = r.U256(); err != nil {
		return p, err
	}
	return p, nil
}

// Encode appends the Pair record to w.
func (p Pair) Encode(w *wire.Writer) {
	w.U16(p.Index0)
	w.U16(p.Index1)
	w.U16(p.StoreIndex)
	w.U256(p.Price1Over0)
}

// Assets resolves the pair's asset ids against the bundle asset list.
func (p Pair) Assets(assets []Asset) (AssetID, AssetID, error) {
	if int(p.Index0) >= len(assets) || int(p.Index1) >= len(assets) {
		return AssetID{}, AssetID{}, fmt.Errorf("%w: pair indices (%d, %d) with %d assets",
			ErrPairIndexOutOfRange, p.Index0, p.Index1, len(assets))
	}
	return assets[p.Index0].ID, assets[p.Index1].ID, nil
}

// InOut returns the (assetIn, assetOut) ids for a trade direction.
func (p Pair) InOut(assets []Asset, zeroForOne bool) (AssetID, AssetID, error) {
	a0, a1, err := p.Assets(assets)
	if err != nil {
		return AssetID{}, AssetID{}, err
	}
	if zeroForOne {
		return a0, a1, nil
	}
	return a1, a0, nil
}

// DecodePairList reads the u24-length-prefixed pair section.
func DecodePairList(r *wire.Reader) ([]Pair, error) {
	sec, err := r.Section()
	if err != nil {
		return nil, err
	}
	var pairs []Pair
	for sec.Remaining() > 0 {
		p, err := DecodePair(sec)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", len(pairs), err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// EncodePairList appends the u24-length-prefixed pair section to w.
func EncodePairList(w *wire.Writer, pairs []Pair) error {
	sec := wire.NewWriter()
	for _, p := range pairs {
		p.Encode(sec)
	}
	return w.Section(sec)
}
