package domain

import (
	"fmt"

	"clearline/internal/wire"
)

// Bundle is one atomically-applied batch: the deduplicated asset list,
// the trading pairs, external pool updates, and the two ordered order
// sections.
type Bundle struct {
	Assets      []Asset
	Pairs       []Pair
	PoolUpdates []PoolUpdate
	TopOfBlock  []TopOfBlockOrder
	UserOrders  []UserOrder
}

// DecodeBundle decodes a complete bundle. The input must be consumed
// exactly; trailing bytes after the user order section fail with
// wire.ErrTrailingBytes. Section lengths are validated strictly: each
// section's per-record loop runs against a sub-reader bounded to the
// declared byte length and must land exactly on its end.
func DecodeBundle(buf []byte) (*Bundle, error) {
	r := wire.NewReader(buf)
	b := &Bundle{}
	var err error

	if b.Assets, err = DecodeAssetList(r); err != nil {
		return nil, fmt.Errorf("asset list: %w", err)
	}
	if b.Pairs, err = DecodePairList(r); err != nil {
		return nil, fmt.Errorf("pair list: %w", err)
	}
	if b.PoolUpdates, err = DecodePoolUpdateList(r); err != nil {
		return nil, fmt.Errorf("pool updates: %w", err)
	}

	tob, err := r.Section()
	if err != nil {
		return nil, fmt.Errorf("priority section: %w", err)
	}
	for tob.Remaining() > 0 {
		o, err := DecodeTopOfBlockOrder(tob)
		if err != nil {
			return nil, fmt.Errorf("priority order %d: %w", len(b.TopOfBlock), err)
		}
		b.TopOfBlock = append(b.TopOfBlock, o)
	}

	user, err := r.Section()
	if err != nil {
		return nil, fmt.Errorf("user section: %w", err)
	}
	for user.Remaining() > 0 {
		o, err := DecodeUserOrder(user)
		if err != nil {
			return nil, fmt.Errorf("user order %d: %w", len(b.UserOrders), err)
		}
		b.UserOrders = append(b.UserOrders, o)
	}

	if err := r.Done(); err != nil {
		return nil, err
	}
	return b, nil
}

// Encode serializes the bundle into its packed wire form.
func (b *Bundle) Encode() ([]byte, error) {
	w := wire.NewWriter()
	if err := EncodeAssetList(w, b.Assets); err != nil {
		return nil, err
	}
	if err := EncodePairList(w, b.Pairs); err != nil {
		return nil, err
	}
	if err := EncodePoolUpdateList(w, b.PoolUpdates); err != nil {
		return nil, err
	}

	tob := wire.NewWriter()
	for i := range b.TopOfBlock {
		if err := b.TopOfBlock[i].Encode(tob); err != nil {
			return nil, fmt.Errorf("priority order %d: %w", i, err)
		}
	}
	if err := w.Section(tob); err != nil {
		return nil, err
	}

	user := wire.NewWriter()
	for i := range b.UserOrders {
		if err := b.UserOrders[i].Encode(user); err != nil {
			return nil, fmt.Errorf("user order %d: %w", i, err)
		}
	}
	if err := w.Section(user); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
