package liquiditymath

import (
	"errors"
	"math/big"
)

var (
	// MaxUint128 bounds pool liquidity the way the reference schema does.
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta writes x + y into dest, where x is unsigned liquidity and y a
// signed delta. The result must stay within [0, 2^128).
func AddDelta(dest, x, y *big.Int) error {
	dest.Add(x, y)
	if dest.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	if dest.Cmp(MaxUint128) > 0 {
		return ErrLiquidityOverflow
	}
	return nil
}
