package swapmath

import (
	"math/big"
	"sync"

	"github.com/defistate/clamm-engine-go/calculator/fullmath"
	"github.com/defistate/clamm-engine-go/calculator/sqrtpricemath"
)

// FeeDenominator expresses fees in parts-per-million.
var FeeDenominator = big.NewInt(1_000_000)

// scratch holds reusable big.Int objects for a single ComputeSwapStep call.
type scratch struct {
	sqrtRatioNextX96       *big.Int
	amountIn               *big.Int
	amountOut              *big.Int
	feeAmount              *big.Int
	amountRemainingLessFee *big.Int
	amountRemainingAbs     *big.Int
	feeComplement          *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &scratch{
			sqrtRatioNextX96:       new(big.Int),
			amountIn:               new(big.Int),
			amountOut:              new(big.Int),
			feeAmount:              new(big.Int),
			amountRemainingLessFee: new(big.Int),
			amountRemainingAbs:     new(big.Int),
			feeComplement:          new(big.Int),
		}
	},
}

// ComputeSwapStep prices one slice of a swap against constant liquidity. It
// writes the price reached, the input consumed, the output produced and the
// fee charged for the slice into the four destination pointers.
//
// amountRemaining >= 0 means an exact-input step (the fee comes out of the
// remaining input); amountRemaining < 0 means exact-output.
func ComputeSwapStep(
	sqrtRatioNextX96, amountIn, amountOut, feeAmount *big.Int,
	sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining, feePips *big.Int,
) error {
	s := pool.Get().(*scratch)
	defer pool.Put(s)

	if err := s.compute(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining, feePips); err != nil {
		return err
	}

	// Copy out so pooled scratch values never escape to the caller.
	sqrtRatioNextX96.Set(s.sqrtRatioNextX96)
	amountIn.Set(s.amountIn)
	amountOut.Set(s.amountOut)
	feeAmount.Set(s.feeAmount)
	return nil
}

func (s *scratch) compute(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining, feePips *big.Int) error {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0

	s.amountIn.SetInt64(0)
	s.amountOut.SetInt64(0)
	s.feeAmount.SetInt64(0)
	s.feeComplement.Sub(FeeDenominator, feePips)

	if exactIn {
		if err := fullmath.MulDiv(s.amountRemainingLessFee, amountRemaining, s.feeComplement, FeeDenominator); err != nil {
			return err
		}
		var err error
		if zeroForOne {
			err = sqrtpricemath.GetAmount0Delta(s.amountIn, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			err = sqrtpricemath.GetAmount1Delta(s.amountIn, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if err != nil {
			return err
		}
		if s.amountRemainingLessFee.Cmp(s.amountIn) >= 0 {
			// Enough input to reach the target price.
			s.sqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromInput(s.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, s.amountRemainingLessFee, zeroForOne); err != nil {
			return err
		}
	} else {
		s.amountRemainingAbs.Neg(amountRemaining)
		var err error
		if zeroForOne {
			err = sqrtpricemath.GetAmount1Delta(s.amountOut, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			err = sqrtpricemath.GetAmount0Delta(s.amountOut, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if err != nil {
			return err
		}
		if s.amountRemainingAbs.Cmp(s.amountOut) >= 0 {
			s.sqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromOutput(s.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, s.amountRemainingAbs, zeroForOne); err != nil {
			return err
		}
	}

	max := sqrtRatioTargetX96.Cmp(s.sqrtRatioNextX96) == 0

	// Recompute the side that was not pinned by the branch above against the
	// price actually reached.
	if zeroForOne {
		if !(max && exactIn) {
			if err := sqrtpricemath.GetAmount0Delta(s.amountIn, s.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, true); err != nil {
				return err
			}
		}
		if !(max && !exactIn) {
			if err := sqrtpricemath.GetAmount1Delta(s.amountOut, s.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false); err != nil {
				return err
			}
		}
	} else {
		if !(max && exactIn) {
			if err := sqrtpricemath.GetAmount1Delta(s.amountIn, sqrtRatioCurrentX96, s.sqrtRatioNextX96, liquidity, true); err != nil {
				return err
			}
		}
		if !(max && !exactIn) {
			if err := sqrtpricemath.GetAmount0Delta(s.amountOut, sqrtRatioCurrentX96, s.sqrtRatioNextX96, liquidity, false); err != nil {
				return err
			}
		}
	}

	// Exact-output never produces more than was asked for.
	if !exactIn && s.amountOut.Cmp(s.amountRemainingAbs) > 0 {
		s.amountOut.Set(s.amountRemainingAbs)
	}

	if exactIn && s.sqrtRatioNextX96.Cmp(sqrtRatioTargetX96) != 0 {
		// The input was exhausted short of the target; whatever was not
		// consumed as principal is the fee.
		s.feeAmount.Sub(amountRemaining, s.amountIn)
	} else {
		if err := fullmath.MulDivRoundingUp(s.feeAmount, s.amountIn, feePips, s.feeComplement); err != nil {
			return err
		}
	}
	return nil
}
