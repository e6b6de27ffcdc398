package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrArithmeticOverflowUnderflow is returned when a guarded amount
	// computation leaves the 128-bit quantity range.
	ErrArithmeticOverflowUnderflow = errors.New("ledger: arithmetic overflow/underflow")

	// ErrFullMulX128Failed is returned when an X128 full-width
	// multiply-divide cannot produce a representable result.
	ErrFullMulX128Failed = errors.New("ledger: full X128 multiply failed")
)

var (
	oneX128 = new(big.Int).Lsh(big.NewInt(1), 128)
	maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// MulX128 computes floor(a * priceX128 / 2^128) through a 512-bit
// intermediate. The result must fit the 128-bit amount range.
func MulX128(a, priceX128 *uint256.Int) (*uint256.Int, error) {
	prod := new(big.Int).Mul(a.ToBig(), priceX128.ToBig())
	prod.Rsh(prod, 128)
	if prod.Cmp(maxU128) > 0 {
		return nil, fmt.Errorf("%w: %s * %s >> 128", ErrFullMulX128Failed, a, priceX128)
	}
	out, _ := uint256.FromBig(prod)
	return out, nil
}

// DivX128 computes floor(a * 2^128 / priceX128). The result must fit
// the 128-bit amount range.
func DivX128(a, priceX128 *uint256.Int) (*uint256.Int, error) {
	if priceX128.IsZero() {
		return nil, fmt.Errorf("%w: division by zero price", ErrFullMulX128Failed)
	}
	num := new(big.Int).Lsh(a.ToBig(), 128)
	num.Quo(num, priceX128.ToBig())
	if num.Cmp(maxU128) > 0 {
		return nil, fmt.Errorf("%w: %s << 128 / %s", ErrFullMulX128Failed, a, priceX128)
	}
	out, _ := uint256.FromBig(num)
	return out, nil
}

// PriceSatisfies reports whether out/in is at least as favorable as
// minPriceX128, comparing out * 2^128 >= in * minPriceX128 at full
// width. A zero-input order trivially satisfies any bound.
func PriceSatisfies(out, in, minPriceX128 *uint256.Int) bool {
	if in.IsZero() {
		return true
	}
	lhs := new(big.Int).Mul(out.ToBig(), oneX128)
	rhs := new(big.Int).Mul(in.ToBig(), minPriceX128.ToBig())
	return lhs.Cmp(rhs) >= 0
}

// FeeAmount computes floor(amount * feePPM / 1e6).
func FeeAmount(amount *uint256.Int, feePPM uint32) *uint256.Int {
	fee := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(feePPM)))
	return fee.Div(fee, uint256.NewInt(1_000_000))
}

// checkedAdd returns a+b, failing if the sum leaves the u128 range.
func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum := new(uint256.Int).Add(a, b)
	if sum.BitLen() > 128 {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflowUnderflow, a, b)
	}
	return sum, nil
}
