package sqrtpricemath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/defistate/clamm-engine-go/calculator/fullmath"
)

var (
	// Q96 is the UQ64.96 fixed-point number representing 1.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Resolution is the number of fractional bits in the Q96 format.
	Resolution = uint(96)

	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")
	ErrPriceOverflow = errors.New("sqrt price calculation overflow")
)

// scratch holds reusable big.Int objects to avoid memory allocations.
type scratch struct {
	numerator1  *big.Int
	numerator2  *big.Int
	denominator *big.Int
	product     *big.Int
	quotient    *big.Int
	term        *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &scratch{
			numerator1:  new(big.Int),
			numerator2:  new(big.Int),
			denominator: new(big.Int),
			product:     new(big.Int),
			quotient:    new(big.Int),
			term:        new(big.Int),
		}
	},
}

// GetNextSqrtPriceFromInput writes the price after consuming amountIn on the
// input side of the pair. Rounding always favors the pool: the returned price
// never lets the input amount buy more than it paid for.
func GetNextSqrtPriceFromInput(dest, sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) error {
	if sqrtPX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if zeroForOne {
		return GetNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amountIn, true)
	}
	return GetNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput writes the price after releasing amountOut on the
// output side of the pair.
func GetNextSqrtPriceFromOutput(dest, sqrtPX96, liquidity, amountOut *big.Int, zeroForOne bool) error {
	if sqrtPX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if zeroForOne {
		return GetNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amountOut, false)
	}
	return GetNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amountOut, false)
}

// GetNextSqrtPriceFromAmount0RoundingUp solves for the price after a token0
// delta. The token0 formula multiplies before dividing so precision is never
// lost ahead of the division.
func GetNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	if amount.Sign() == 0 {
		dest.Set(sqrtPX96)
		return nil
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	s.numerator1.Lsh(liquidity, Resolution)
	s.product.Mul(amount, sqrtPX96)

	if add {
		s.denominator.Add(s.numerator1, s.product)
		if s.denominator.Cmp(s.numerator1) >= 0 {
			return fullmath.MulDivRoundingUp(dest, s.numerator1, sqrtPX96, s.denominator)
		}
		// Degenerate fallback: liquidity / (liquidity/sqrtP + amount),
		// rounded up.
		s.denominator.Div(s.numerator1, sqrtPX96)
		s.denominator.Add(s.denominator, amount)
		return fullmath.DivRoundingUp(dest, s.numerator1, s.denominator)
	}

	if s.numerator1.Cmp(s.product) <= 0 {
		return ErrPriceOverflow
	}
	s.denominator.Sub(s.numerator1, s.product)
	return fullmath.MulDivRoundingUp(dest, s.numerator1, sqrtPX96, s.denominator)
}

// GetNextSqrtPriceFromAmount1RoundingDown solves for the price after a token1
// delta. The token1 side is linear in price, so the quotient is applied
// directly.
func GetNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	s := pool.Get().(*scratch)
	defer pool.Put(s)

	if add {
		if err := fullmath.MulDiv(s.quotient, amount, Q96, liquidity); err != nil {
			return err
		}
		dest.Add(sqrtPX96, s.quotient)
		return nil
	}

	if err := fullmath.MulDivRoundingUp(s.quotient, amount, Q96, liquidity); err != nil {
		return err
	}
	if sqrtPX96.Cmp(s.quotient) <= 0 {
		return ErrPriceOverflow
	}
	dest.Sub(sqrtPX96, s.quotient)
	return nil
}

// GetAmount0Delta writes the token0 amount spanned by liquidity between two
// sqrt prices. roundUp must be true when the amount is owed to the pool and
// false when owed by it, so debts are overestimated and credits
// underestimated.
func GetAmount0Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	s.numerator1.Lsh(liquidity, Resolution)
	s.numerator2.Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		if err := fullmath.MulDivRoundingUp(s.term, s.numerator1, s.numerator2, sqrtRatioBX96); err != nil {
			return err
		}
		return fullmath.DivRoundingUp(dest, s.term, sqrtRatioAX96)
	}
	if err := fullmath.MulDiv(s.term, s.numerator1, s.numerator2, sqrtRatioBX96); err != nil {
		return err
	}
	dest.Div(s.term, sqrtRatioAX96)
	return nil
}

// GetAmount1Delta writes the token1 amount spanned by liquidity between two
// sqrt prices, with the same rounding contract as GetAmount0Delta.
func GetAmount1Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	s.numerator1.Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		return fullmath.MulDivRoundingUp(dest, liquidity, s.numerator1, Q96)
	}
	return fullmath.MulDiv(dest, liquidity, s.numerator1, Q96)
}
