package engine

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"clearline/internal/configstore"
	"clearline/internal/domain"
	"clearline/internal/ledger"
	"clearline/internal/validation"
)

// settleTopOfBlock applies one priority order. Priority orders trade a
// fixed pair of exact quantities; gas is charged on the asset0 leg.
func (e *Engine) settleTopOfBlock(ctx context.Context, l *ledger.Ledger, guard *validation.Guard,
	o *domain.TopOfBlockOrder, b *domain.Bundle, ec ExecContext) error {

	if o.GasUsedAsset0.Gt(o.MaxGasAsset0) {
		return fmt.Errorf("%w: used %s, signed max %s", ErrGasUsedAboveMax, o.GasUsedAsset0, o.MaxGasAsset0)
	}
	if int(o.PairIndex) >= len(b.Pairs) {
		return fmt.Errorf("%w: pair %d of %d", domain.ErrPairIndexOutOfRange, o.PairIndex, len(b.Pairs))
	}
	pair := b.Pairs[o.PairIndex]
	assetIn, assetOut, err := pair.InOut(b.Assets, o.ZeroForOne)
	if err != nil {
		return err
	}
	asset0, _, err := pair.Assets(b.Assets)
	if err != nil {
		return err
	}

	hash, err := e.validator.Domain().TopOfBlockSigningHash(o, b.Assets, b.Pairs, ec.Window)
	if err != nil {
		return err
	}
	signer, err := e.validator.VerifySignature(ctx, hash, o.Signature)
	if err != nil {
		return err
	}
	if err := guard.UseFlashHash(ctx, validation.FlashIdentity(hash, signer)); err != nil {
		return err
	}

	collect := o.QuantityIn
	pay := o.QuantityOut
	if o.ZeroForOne {
		if collect, err = addAmount(collect, o.GasUsedAsset0); err != nil {
			return err
		}
	} else {
		if pay.Lt(o.GasUsedAsset0) {
			return fmt.Errorf("%w: gas %s exceeds output %s", ErrGasUsedAboveMax, o.GasUsedAsset0, pay)
		}
		pay = new(uint256.Int).Sub(pay, o.GasUsedAsset0)
	}
	if err := l.AccrueFee(asset0, o.GasUsedAsset0); err != nil {
		return err
	}

	recipient := o.Recipient
	if recipient.IsZero() {
		recipient = signer
	}
	if err := l.CollectIn(ctx, assetIn, signer, collect, o.UseInternal); err != nil {
		return err
	}
	return l.PayOut(ctx, assetOut, recipient, pay, o.UseInternal)
}

// settleUserOrder applies one user order at the pair's uniform clearing
// price. Bundle and extra fees are charged on the asset0 leg; the limit
// check runs on the amounts the signer actually pays and receives.
func (e *Engine) settleUserOrder(ctx context.Context, l *ledger.Ledger, guard *validation.Guard,
	o *domain.UserOrder, entry configstore.Entry, b *domain.Bundle, ec ExecContext) error {

	if o.ExtraFee0.Gt(o.MaxExtraFee0) {
		return fmt.Errorf("%w: charged %s, signed max %s", ErrExtraFeeAboveMax, o.ExtraFee0, o.MaxExtraFee0)
	}
	if o.Quantities.Partial {
		fill := o.Quantities.FilledQuantity
		if fill.Lt(o.Quantities.MinQuantityIn) || fill.Gt(o.Quantities.MaxQuantityIn) {
			return fmt.Errorf("%w: fill %s outside [%s, %s]", ErrFillOutOfBounds,
				fill, o.Quantities.MinQuantityIn, o.Quantities.MaxQuantityIn)
		}
	}
	if o.IsStanding() {
		if err := validation.CheckDeadline(o.Standing.Deadline, ec.ExecTime); err != nil {
			return err
		}
	}

	pair := b.Pairs[o.PairIndex]
	assetIn, assetOut, err := pair.InOut(b.Assets, o.ZeroForOne)
	if err != nil {
		return err
	}
	asset0, _, err := pair.Assets(b.Assets)
	if err != nil {
		return err
	}

	hash, err := e.validator.Domain().UserSigningHash(o, b.Assets, b.Pairs, ec.Window)
	if err != nil {
		return err
	}
	signer, err := e.validator.VerifySignature(ctx, hash, o.Signature)
	if err != nil {
		return err
	}
	if o.IsStanding() {
		err = guard.UseNonce(ctx, signer, o.Standing.Nonce)
	} else {
		err = guard.UseFlashHash(ctx, validation.FlashIdentity(hash, signer))
	}
	if err != nil {
		return err
	}

	in, out, err := tradeAmounts(o, pair.Price1Over0)
	if err != nil {
		return err
	}

	// Fees come out of the asset0 side of the trade.
	amount0 := out
	if o.ZeroForOne {
		amount0 = in
	}
	fee0, err := addAmount(ledger.FeeAmount(amount0, entry.BundleFee), o.ExtraFee0)
	if err != nil {
		return err
	}
	effIn, effOut := in, out
	if o.ZeroForOne {
		if effIn, err = addAmount(in, fee0); err != nil {
			return err
		}
	} else {
		if out.Lt(fee0) {
			return fmt.Errorf("%w: fee %s exceeds output %s", ErrLimitViolated, fee0, out)
		}
		effOut = new(uint256.Int).Sub(out, fee0)
	}
	if !ledger.PriceSatisfies(effOut, effIn, o.MinPrice) {
		return fmt.Errorf("%w: %s in for %s out below limit %s", ErrLimitViolated, effIn, effOut, o.MinPrice)
	}
	if err := l.AccrueFee(asset0, fee0); err != nil {
		return err
	}

	recipient := o.Recipient
	if recipient.IsZero() {
		recipient = signer
	}
	// The output is delivered and the hook runs before the input is
	// collected, so a hook can source the input leg from the proceeds.
	if err := l.PayOut(ctx, assetOut, recipient, effOut, o.UseInternal); err != nil {
		return err
	}
	if o.HookPayload != nil {
		if err := ledger.DispatchHook(ctx, l, e.fillHook, recipient, o.HookPayload); err != nil {
			return err
		}
	}
	return l.CollectIn(ctx, assetIn, signer, effIn, o.UseInternal)
}

// tradeAmounts derives the (in, out) quantities of a user order from
// the pair's clearing price. Partial orders are denominated on the
// input side.
func tradeAmounts(o *domain.UserOrder, priceX128 *uint256.Int) (in, out *uint256.Int, err error) {
	amount := o.Quantities.Amount()
	if o.ExactIn || o.Quantities.Partial {
		in = amount
		if o.ZeroForOne {
			out, err = ledger.MulX128(in, priceX128)
		} else {
			out, err = ledger.DivX128(in, priceX128)
		}
		return in, out, err
	}
	out = amount
	if o.ZeroForOne {
		in, err = ledger.DivX128(out, priceX128)
	} else {
		in, err = ledger.MulX128(out, priceX128)
	}
	return in, out, err
}

func addAmount(a, b *uint256.Int) (*uint256.Int, error) {
	sum := new(uint256.Int).Add(a, b)
	if sum.BitLen() > 128 {
		return nil, fmt.Errorf("%w: %s + %s", ledger.ErrArithmeticOverflowUnderflow, a, b)
	}
	return sum, nil
}
