package domain

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"clearline/internal/wire"
)

// ErrUnknownVariant is returned when an order's variant byte carries flag
// combinations the grammar does not define.
var ErrUnknownVariant = errors.New("domain: unknown order variant")

// Top-of-block variant byte flags.
const (
	tobUseInternal  = 1 << 0
	tobHasRecipient = 1 << 1
	tobZeroForOne   = 1 << 2
	tobContractSig  = 1 << 3
	tobKnownMask    = tobUseInternal | tobHasRecipient | tobZeroForOne | tobContractSig
)

// User order variant byte flags.
const (
	userUseInternal  = 1 << 0
	userHasRecipient = 1 << 1
	userHasHook      = 1 << 2
	userZeroForOne   = 1 << 3
	userIsStanding   = 1 << 4
	userExactIn      = 1 << 5
	userIsPartial    = 1 << 6
	userContractSig  = 1 << 7
)

// SigKind selects the signature scheme of an order.
type SigKind uint8

const (
	// SigEd25519 is an ed25519 signature over the order's signing hash.
	SigEd25519 SigKind = iota
	// SigContract delegates verification to the purported signer's
	// registered verifier.
	SigContract
)

// Signature is the authenticity proof attached to an order.
//
// For SigEd25519, Signer is the 32-byte public key and Data the 64-byte
// signature. For SigContract, Signer is the account whose registered
// verifier confirms Data against the signing hash.
type Signature struct {
	Kind   SigKind
	Signer Address
	Data   []byte
}

const ed25519SigSize = 64

func decodeSignature(r *wire.Reader, contract bool) (Signature, error) {
	var s Signature
	var err error
	if s.Signer, err = r.ID32(); err != nil {
		return s, err
	}
	if contract {
		s.Kind = SigContract
		s.Data, err = r.PrefixedBytes16()
		return s, err
	}
	s.Kind = SigEd25519
	s.Data, err = r.Bytes(ed25519SigSize)
	return s, err
}

func (s Signature) encode(w *wire.Writer) error {
	w.ID32([32]byte(s.Signer))
	if s.Kind == SigContract {
		return w.PrefixedBytes16(s.Data)
	}
	if len(s.Data) != ed25519SigSize {
		return fmt.Errorf("%w: ed25519 signature must be %d bytes, got %d",
			ErrUnknownVariant, ed25519SigSize, len(s.Data))
	}
	w.Raw(s.Data)
	return nil
}

// TopOfBlockOrder is the single-use priority order executed before any
// user order. It is implicitly bound to the execution window it was
// signed for; its replay identity is the hash of its signed content.
type TopOfBlockOrder struct {
	UseInternal   bool
	QuantityIn    *uint256.Int
	QuantityOut   *uint256.Int
	MaxGasAsset0  *uint256.Int
	GasUsedAsset0 *uint256.Int
	PairIndex     uint16
	ZeroForOne    bool
	Recipient     Address // zero = pay the signer
	Signature     Signature
}

// DecodeTopOfBlockOrder reads one priority order.
func DecodeTopOfBlockOrder(r *wire.Reader) (TopOfBlockOrder, error) {
	var o TopOfBlockOrder
	variant, err := r.U8()
	if err != nil {
		return o, err
	}
	if variant&^uint8(tobKnownMask) != 0 {
		return o, fmt.Errorf("%w: priority variant byte %#02x", ErrUnknownVariant, variant)
	}
	o.UseInternal = variant&tobUseInternal != 0
	o.ZeroForOne = variant&tobZeroForOne != 0

	if o.QuantityIn, err = r.U128(); err != nil {
		return o, err
	}
	if o.QuantityOut, err = r.U128(); err != nil {
		return o, err
	}
	if o.MaxGasAsset0, err = r.U128(); err != nil {
		return o, err
	}
	if o.GasUsedAsset0, err = r.U128(); err != nil {
		return o, err
	}
	if o.PairIndex, err = r.U16(); err != nil {
		return o, err
	}
	if variant&tobHasRecipient != 0 {
		if o.Recipient, err = r.ID32(); err != nil {
			return o, err
		}
	}
	o.Signature, err = decodeSignature(r, variant&tobContractSig != 0)
	return o, err
}

// Encode appends the priority order to w.
func (o TopOfBlockOrder) Encode(w *wire.Writer) error {
	var variant uint8
	if o.UseInternal {
		variant |= tobUseInternal
	}
	if !o.Recipient.IsZero() {
		variant |= tobHasRecipient
	}
	if o.ZeroForOne {
		variant |= tobZeroForOne
	}
	if o.Signature.Kind == SigContract {
		variant |= tobContractSig
	}
	w.U8(variant)
	for _, q := range []*uint256.Int{o.QuantityIn, o.QuantityOut, o.MaxGasAsset0, o.GasUsedAsset0} {
		if err := w.U128(q); err != nil {
			return err
		}
	}
	w.U16(o.PairIndex)
	if !o.Recipient.IsZero() {
		w.ID32([32]byte(o.Recipient))
	}
	return o.Signature.encode(w)
}

// OrderQuantities is the quantity specification of a user order: either a
// single exact amount, or a partial-fill range with the builder's chosen
// fill.
type OrderQuantities struct {
	Partial bool

	// Exact orders.
	Quantity *uint256.Int

	// Partial orders.
	MinQuantityIn  *uint256.Int
	MaxQuantityIn  *uint256.Int
	FilledQuantity *uint256.Int
}

// Amount returns the quantity the settlement step trades: the exact
// amount, or the builder's filled amount for partial orders.
func (q OrderQuantities) Amount() *uint256.Int {
	if q.Partial {
		return q.FilledQuantity
	}
	return q.Quantity
}

// StandingValidation carries the replay fields of a standing order: a
// sparse nonce and a wall-clock deadline (seconds, 40-bit).
type StandingValidation struct {
	Nonce    uint64
	Deadline uint64
}

// UserOrder is a standard order executed in the second phase. A flash
// order (Standing == nil) is bound to the current execution window and
// identified by its content hash; a standing order is identified by
// (signer, nonce) and valid until its deadline.
type UserOrder struct {
	RefID        uint32
	UseInternal  bool
	PairIndex    uint16
	MinPrice     *uint256.Int // min out per in, X128, in trade direction
	Recipient    Address      // zero = pay the signer
	HookPayload  []byte       // nil = no post-fill hook
	ZeroForOne   bool
	ExactIn      bool
	Standing     *StandingValidation
	Quantities   OrderQuantities
	MaxExtraFee0 *uint256.Int
	ExtraFee0    *uint256.Int
	Signature    Signature
}

// IsStanding reports whether the order uses standing (nonce) replay
// protection.
func (o *UserOrder) IsStanding() bool {
	return o.Standing != nil
}

// DecodeUserOrder reads one user order.
func DecodeUserOrder(r *wire.Reader) (UserOrder, error) {
	var o UserOrder
	variant, err := r.U8()
	if err != nil {
		return o, err
	}
	o.UseInternal = variant&userUseInternal != 0
	o.ZeroForOne = variant&userZeroForOne != 0
	o.ExactIn = variant&userExactIn != 0
	if variant&userIsPartial != 0 && variant&userExactIn != 0 {
		// partial orders are always denominated on the input side
		return o, fmt.Errorf("%w: partial order with exact-in flag", ErrUnknownVariant)
	}

	if o.RefID, err = r.U32(); err != nil {
		return o, err
	}
	if o.PairIndex, err = r.U16(); err != nil {
		return o, err
	}
	if o.MinPrice, err = r.U256(); err != nil {
		return o, err
	}
	if variant&userHasRecipient != 0 {
		if o.Recipient, err = r.ID32(); err != nil {
			return o, err
		}
	}
	if variant&userHasHook != 0 {
		if o.HookPayload, err = r.PrefixedBytes(); err != nil {
			return o, err
		}
	}
	if variant&userIsStanding != 0 {
		var sv StandingValidation
		if sv.Nonce, err = r.U64(); err != nil {
			return o, err
		}
		if sv.Deadline, err = r.U40(); err != nil {
			return o, err
		}
		o.Standing = &sv
	}
	if variant&userIsPartial != 0 {
		o.Quantities.Partial = true
		if o.Quantities.MinQuantityIn, err = r.U128(); err != nil {
			return o, err
		}
		if o.Quantities.MaxQuantityIn, err = r.U128(); err != nil {
			return o, err
		}
		if o.Quantities.FilledQuantity, err = r.U128(); err != nil {
			return o, err
		}
	} else {
		if o.Quantities.Quantity, err = r.U128(); err != nil {
			return o, err
		}
	}
	if o.MaxExtraFee0, err = r.U128(); err != nil {
		return o, err
	}
	if o.ExtraFee0, err = r.U128(); err != nil {
		return o, err
	}
	o.Signature, err = decodeSignature(r, variant&userContractSig != 0)
	return o, err
}

// Encode appends the user order to w.
func (o *UserOrder) Encode(w *wire.Writer) error {
	var variant uint8
	if o.UseInternal {
		variant |= userUseInternal
	}
	if !o.Recipient.IsZero() {
		variant |= userHasRecipient
	}
	if o.HookPayload != nil {
		variant |= userHasHook
	}
	if o.ZeroForOne {
		variant |= userZeroForOne
	}
	if o.Standing != nil {
		variant |= userIsStanding
	}
	if o.ExactIn {
		variant |= userExactIn
	}
	if o.Quantities.Partial {
		if o.ExactIn {
			return fmt.Errorf("%w: partial order with exact-in flag", ErrUnknownVariant)
		}
		variant |= userIsPartial
	}
	if o.Signature.Kind == SigContract {
		variant |= userContractSig
	}
	w.U8(variant)
	w.U32(o.RefID)
	w.U16(o.PairIndex)
	w.U256(o.MinPrice)
	if !o.Recipient.IsZero() {
		w.ID32([32]byte(o.Recipient))
	}
	if o.HookPayload != nil {
		if err := w.PrefixedBytes(o.HookPayload); err != nil {
			return err
		}
	}
	if o.Standing != nil {
		w.U64(o.Standing.Nonce)
		if err := w.U40(o.Standing.Deadline); err != nil {
			return err
		}
	}
	var qs []*uint256.Int
	if o.Quantities.Partial {
		qs = []*uint256.Int{o.Quantities.MinQuantityIn, o.Quantities.MaxQuantityIn, o.Quantities.FilledQuantity}
	} else {
		qs = []*uint256.Int{o.Quantities.Quantity}
	}
	qs = append(qs, o.MaxExtraFee0, o.ExtraFee0)
	for _, q := range qs {
		if err := w.U128(q); err != nil {
			return err
		}
	}
	return o.Signature.encode(w)
}
