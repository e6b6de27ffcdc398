package domain

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"clearline/internal/wire"
)

// ErrAssetsNotSorted is returned when the bundle's asset list is not in
// strictly ascending id order.
var ErrAssetsNotSorted = errors.New("domain: assets not sorted")

// AssetWireSize is the encoded size of one Asset record: a 32-byte id
// followed by three u128 amounts.
const AssetWireSize = 32 + 16*3

// Asset is one entry of a bundle's deduplicated, ascending-sorted asset
// list. The three amounts are the builder's declared external flows for
// the whole bundle: Take is pulled from the external source up front,
// Settle is repaid at the end, and Save is retained by the engine as
// accumulated fees.
type Asset struct {
	ID     AssetID
	Save   *uint256.Int
	Take   *uint256.Int
	Settle *uint256.Int
}

// DecodeAsset reads one Asset record.
func DecodeAsset(r *wire.Reader) (Asset, error) {
	var a Asset
	var err error
	if a.ID, err = r.ID32(); err != nil {
		return a, err
	}
	if a.Save, err = r.U128(); err != nil {
		return a, err
	}
	if a.Take, err = r.U128(); err != nil {
		return a, err
	}
	if a.Settle, err = r.U128(); err != nil {
		return a, err
	}
	return a, nil
}

// Encode appends the Asset record to w.
func (a Asset) Encode(w *wire.Writer) error {
	w.ID32([32]byte(a.ID))
	for _, q := range []*uint256.Int{a.Save, a.Take, a.Settle} {
		if err := w.U128(q); err != nil {
			return err
		}
	}
	return nil
}

// DecodeAssetList reads the u24-length-prefixed asset section and
// validates strict ascending id order in the same pass.
func DecodeAssetList(r *wire.Reader) ([]Asset, error) {
	sec, err := r.Section()
	if err != nil {
		return nil, err
	}
	var assets []Asset
	for sec.Remaining() > 0 {
		a, err := DecodeAsset(sec)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", len(assets), err)
		}
		if n := len(assets); n > 0 && assets[n-1].ID.Cmp(a.ID) >= 0 {
			return nil, fmt.Errorf("%w: asset %d (%s) not above its predecessor",
				ErrAssetsNotSorted, n, a.ID)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// EncodeAssetList appends the u24-length-prefixed asset section to w.
func EncodeAssetList(w *wire.Writer, assets []Asset) error {
	sec := wire.NewWriter()
	for _, a := range assets {
		if err := a.Encode(sec); err != nil {
			return err
		}
	}
	return w.Section(sec)
}
