package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/clamm-engine-go/calculator/fullmath"
	"github.com/defistate/clamm-engine-go/calculator/liquiditymath"
	"github.com/defistate/clamm-engine-go/calculator/swapmath"
	"github.com/defistate/clamm-engine-go/calculator/tickmath"
	"github.com/defistate/clamm-engine-go/oracle"
	"github.com/defistate/clamm-engine-go/tickstore"
)

// SwapResult reports a swap with explicit direction instead of the signed
// amount convention: AmountIn is what the pool received (fees included),
// AmountOut what it paid.
type SwapResult struct {
	AssetIn   common.Address
	AssetOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// swapShadow collects everything a swap mutates so a failed payment check can
// unwind it.
type swapShadow struct {
	pool         *Pool
	sqrtPriceX96 *big.Int
	tick         int64
	liquidity    *big.Int
	feeGrowth0   *big.Int
	feeGrowth1   *big.Int
	obsIndex     uint16
	obsCard      uint16
	obsSlot      int
	obsValue     oracle.Observation
	obsTouched   bool
	crossed      []crossedTick
}

type crossedTick struct {
	index   int64
	tick    *tickstore.Tick
	existed bool
}

func (p *Pool) newSwapShadow() *swapShadow {
	return &swapShadow{
		pool:         p,
		sqrtPriceX96: new(big.Int).Set(p.sqrtPriceX96),
		tick:         p.tick,
		liquidity:    new(big.Int).Set(p.liquidity),
		feeGrowth0:   new(big.Int).Set(p.feeGrowthGlobal0X128),
		feeGrowth1:   new(big.Int).Set(p.feeGrowthGlobal1X128),
		obsIndex:     p.obsIndex,
		obsCard:      p.obsCard,
	}
}

func (s *swapShadow) recordCrossing(index int64) {
	t, existed := s.pool.ticks.Peek(index)
	s.crossed = append(s.crossed, crossedTick{index: index, tick: t, existed: existed})
}

func (s *swapShadow) recordObservation(slot int) {
	s.obsSlot = slot
	s.obsValue = s.pool.observations.At(slot)
	s.obsTouched = true
}

func (s *swapShadow) restore() {
	p := s.pool
	p.sqrtPriceX96.Set(s.sqrtPriceX96)
	p.tick = s.tick
	p.liquidity.Set(s.liquidity)
	p.feeGrowthGlobal0X128.Set(s.feeGrowth0)
	p.feeGrowthGlobal1X128.Set(s.feeGrowth1)
	p.obsIndex = s.obsIndex
	p.obsCard = s.obsCard
	if s.obsTouched {
		p.observations.SetAt(s.obsSlot, s.obsValue)
	}
	for _, c := range s.crossed {
		p.ticks.Restore(c.index, c.tick, c.existed)
	}
}

// Swap trades one asset for the other, stepping through initialized ticks
// until the specified amount is exhausted or the price limit is hit. Positive
// amountSpecified is exact-input, negative exact-output. The callback must
// pay the input side after accounting commits.
func (p *Pool) Swap(recipient common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int, cb SwapCallback, data []byte) (res SwapResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.metrics.Observe("swap", err) }()

	if !p.initialized {
		return SwapResult{}, ErrNotInitialized
	}
	if amountSpecified == nil || amountSpecified.Sign() == 0 {
		return SwapResult{}, ErrZeroAmount
	}

	limit := sqrtPriceLimitX96
	if limit == nil {
		if zeroForOne {
			limit = new(big.Int).Add(tickmath.MinSqrtRatio, big.NewInt(1))
		} else {
			limit = new(big.Int).Sub(tickmath.MaxSqrtRatio, big.NewInt(1))
		}
	}
	if zeroForOne {
		if limit.Cmp(p.sqrtPriceX96) >= 0 || limit.Cmp(tickmath.MinSqrtRatio) <= 0 {
			return SwapResult{}, ErrInvalidPriceLimit
		}
	} else {
		if limit.Cmp(p.sqrtPriceX96) <= 0 || limit.Cmp(tickmath.MaxSqrtRatio) >= 0 {
			return SwapResult{}, ErrInvalidPriceLimit
		}
	}

	exactInput := amountSpecified.Sign() > 0
	shadow := p.newSwapShadow()

	// Loop-local state, committed to the pool only when the loop finishes.
	remaining := new(big.Int).Set(amountSpecified)
	calculated := new(big.Int)
	sqrtPrice := new(big.Int).Set(p.sqrtPriceX96)
	tick := p.tick
	liquidity := new(big.Int).Set(p.liquidity)
	feeGrowthGlobal := new(big.Int)
	if zeroForOne {
		feeGrowthGlobal.Set(p.feeGrowthGlobal0X128)
	} else {
		feeGrowthGlobal.Set(p.feeGrowthGlobal1X128)
	}

	sqrtPriceStart := new(big.Int)
	sqrtPriceNext := new(big.Int)
	target := new(big.Int)
	stepIn := new(big.Int)
	stepOut := new(big.Int)
	stepFee := new(big.Int)
	stepTotal := new(big.Int)
	feeSlice := new(big.Int)

	for remaining.Sign() != 0 && sqrtPrice.Cmp(limit) != 0 {
		sqrtPriceStart.Set(sqrtPrice)

		tickNext, initialized := p.ticks.NextInitializedTickWithinOneWord(tick, zeroForOne)
		if tickNext < tickmath.MinTick {
			tickNext = tickmath.MinTick
		} else if tickNext > tickmath.MaxTick {
			tickNext = tickmath.MaxTick
		}

		if err = tickmath.GetSqrtRatioAtTick(sqrtPriceNext, tickNext); err != nil {
			shadow.restore()
			return SwapResult{}, err
		}

		if (zeroForOne && sqrtPriceNext.Cmp(limit) < 0) ||
			(!zeroForOne && sqrtPriceNext.Cmp(limit) > 0) {
			target.Set(limit)
		} else {
			target.Set(sqrtPriceNext)
		}

		if err = swapmath.ComputeSwapStep(
			sqrtPrice, stepIn, stepOut, stepFee,
			sqrtPriceStart, target, liquidity, remaining, p.feePips,
		); err != nil {
			shadow.restore()
			return SwapResult{}, err
		}

		stepTotal.Add(stepIn, stepFee)
		if exactInput {
			remaining.Sub(remaining, stepTotal)
			calculated.Add(calculated, stepOut)
		} else {
			remaining.Add(remaining, stepOut)
			calculated.Add(calculated, stepTotal)
		}

		// Fees accrue per unit of active liquidity. With no liquidity in
		// range there is nobody to attribute them to and the term is
		// skipped; that exact behavior is part of the solvency contract.
		if stepFee.Sign() > 0 && liquidity.Sign() > 0 {
			if err = fullmath.MulDiv(feeSlice, stepFee, fullmath.Q128, liquidity); err != nil {
				shadow.restore()
				return SwapResult{}, err
			}
			fullmath.WrappingAdd(feeGrowthGlobal, feeGrowthGlobal, feeSlice)
		}

		if sqrtPrice.Cmp(sqrtPriceNext) == 0 {
			if initialized {
				shadow.recordCrossing(tickNext)
				var g0, g1 *big.Int
				if zeroForOne {
					g0, g1 = feeGrowthGlobal, p.feeGrowthGlobal1X128
				} else {
					g0, g1 = p.feeGrowthGlobal0X128, feeGrowthGlobal
				}
				net := p.ticks.Cross(tickNext, g0, g1)
				if zeroForOne {
					net.Neg(net)
				}
				if err = liquiditymath.AddDelta(liquidity, liquidity, net); err != nil {
					shadow.restore()
					return SwapResult{}, fmt.Errorf("%w: crossing tick %d", ErrNotEnoughLiquidity, tickNext)
				}
				p.metrics.TicksCrossed.Inc()
			}
			// Ranges are [lower, upper): landing on a tick from above puts
			// the price one tick short of it.
			if zeroForOne {
				tick = tickNext - 1
			} else {
				tick = tickNext
			}
		} else if sqrtPrice.Cmp(sqrtPriceStart) != 0 {
			if tick, err = tickmath.GetTickAtSqrtRatio(sqrtPrice); err != nil {
				shadow.restore()
				return SwapResult{}, err
			}
		}
		p.metrics.SwapSteps.Inc()
	}

	// Commit accounting. The oracle records the pre-swap tick: it was the
	// pool's tick for the whole interval ending now.
	if tick != p.tick {
		slot := p.nextObservationSlot()
		shadow.recordObservation(slot)
		newIndex, newCard, werr := p.observations.Write(p.obsIndex, p.now(), p.tick, p.obsCard, p.obsCardNext)
		if werr != nil {
			shadow.restore()
			return SwapResult{}, werr
		}
		p.obsIndex, p.obsCard = newIndex, newCard
		p.metrics.OracleCardinality.Set(float64(newCard))
	}
	p.sqrtPriceX96.Set(sqrtPrice)
	p.tick = tick
	p.liquidity.Set(liquidity)
	if zeroForOne {
		p.feeGrowthGlobal0X128.Set(feeGrowthGlobal)
	} else {
		p.feeGrowthGlobal1X128.Set(feeGrowthGlobal)
	}

	amountIn, amountOut := settleAmounts(amountSpecified, remaining, calculated, exactInput)
	assetIn, assetOut := p.asset1, p.asset0
	if zeroForOne {
		assetIn, assetOut = p.asset0, p.asset1
	}

	// Pay the output, then require the input. Accounting is already
	// committed; a reentrant or buggy payer can only make the balance check
	// fail and unwind the lot.
	if amountOut.Sign() > 0 {
		if terr := p.assets.Transfer(assetOut, p.account, recipient, amountOut); terr != nil {
			shadow.restore()
			return SwapResult{}, terr
		}
	}

	balanceBefore := p.assets.BalanceOf(assetIn, p.account)
	var cbErr error
	if cb != nil {
		amount0, amount1 := signedAmounts(amountIn, amountOut, zeroForOne)
		cbErr = cb(amount0, amount1, data)
	}
	if cbErr != nil || (amountIn.Sign() > 0 && !paidAtLeast(balanceBefore, p.assets.BalanceOf(assetIn, p.account), amountIn)) {
		// Claw the output back before unwinding state.
		var reclaimErr error
		if amountOut.Sign() > 0 {
			reclaimErr = p.assets.Transfer(assetOut, recipient, p.account, amountOut)
		}
		shadow.restore()
		err = fmt.Errorf("%w: input side", ErrInsufficientInput)
		if cbErr != nil {
			err = fmt.Errorf("%w: %v", ErrInsufficientInput, cbErr)
		}
		if reclaimErr != nil {
			err = errors.Join(err, fmt.Errorf("reclaiming output: %w", reclaimErr))
		}
		return SwapResult{}, err
	}

	amount0, amount1 := signedAmounts(amountIn, amountOut, zeroForOne)
	p.emit(SwapEvent{
		Recipient:    recipient,
		Amount0:      amount0,
		Amount1:      amount1,
		SqrtPriceX96: new(big.Int).Set(p.sqrtPriceX96),
		Liquidity:    new(big.Int).Set(p.liquidity),
		Tick:         p.tick,
	})
	p.metrics.CurrentTick.Set(float64(p.tick))
	p.metrics.ActiveLiquidity.Set(liquidityFloat(p.liquidity))
	p.logger.Debug("swap",
		"recipient", recipient, "zeroForOne", zeroForOne,
		"amountIn", amountIn.String(), "amountOut", amountOut.String(),
		"tick", p.tick)

	return SwapResult{
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
	}, nil
}

// nextObservationSlot mirrors the oracle's write cursor arithmetic so the
// slot about to be overwritten can be shadowed.
func (p *Pool) nextObservationSlot() int {
	card := p.obsCard
	if p.obsCardNext > card && p.obsIndex == card-1 {
		card = p.obsCardNext
	}
	return int((p.obsIndex + 1) % card)
}

// settleAmounts converts the loop accumulators into unsigned in/out amounts.
func settleAmounts(specified, remaining, calculated *big.Int, exactInput bool) (*big.Int, *big.Int) {
	consumed := new(big.Int).Sub(specified, remaining)
	if exactInput {
		return consumed, new(big.Int).Set(calculated)
	}
	return new(big.Int).Set(calculated), consumed.Neg(consumed)
}

// signedAmounts re-expresses in/out as the signed per-asset convention used
// by events and callbacks: positive owed to the pool, negative paid by it.
func signedAmounts(amountIn, amountOut *big.Int, zeroForOne bool) (*big.Int, *big.Int) {
	if zeroForOne {
		return new(big.Int).Set(amountIn), new(big.Int).Neg(amountOut)
	}
	return new(big.Int).Neg(amountOut), new(big.Int).Set(amountIn)
}

// Flash lends the requested amounts for the duration of the callback. The
// callback must return the principal plus a proportional fee; paid fees
// accrue to the fee-growth accumulators.
func (p *Pool) Flash(recipient common.Address, amount0, amount1 *big.Int, cb FlashCallback, data []byte) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.metrics.Observe("flash", err) }()

	if !p.initialized {
		return ErrNotInitialized
	}
	if p.liquidity.Sign() == 0 {
		return ErrNotEnoughLiquidity
	}
	if amount0 == nil {
		amount0 = new(big.Int)
	}
	if amount1 == nil {
		amount1 = new(big.Int)
	}

	fee0 := new(big.Int)
	fee1 := new(big.Int)
	if err = fullmath.MulDivRoundingUp(fee0, amount0, p.feePips, swapmath.FeeDenominator); err != nil {
		return err
	}
	if err = fullmath.MulDivRoundingUp(fee1, amount1, p.feePips, swapmath.FeeDenominator); err != nil {
		return err
	}

	balance0Before := p.assets.BalanceOf(p.asset0, p.account)
	balance1Before := p.assets.BalanceOf(p.asset1, p.account)

	if amount0.Sign() > 0 {
		if err = p.assets.Transfer(p.asset0, p.account, recipient, amount0); err != nil {
			return err
		}
	}
	if amount1.Sign() > 0 {
		if err = p.assets.Transfer(p.asset1, p.account, recipient, amount1); err != nil {
			return err
		}
	}

	if cb != nil {
		if cbErr := cb(fee0, fee1, data); cbErr != nil {
			err = fmt.Errorf("%w: %v", ErrFlashNotPaid, cbErr)
			if rerr := p.reclaimFlash(recipient, balance0Before, balance1Before); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return err
		}
	}

	balance0After := p.assets.BalanceOf(p.asset0, p.account)
	balance1After := p.assets.BalanceOf(p.asset1, p.account)

	required0 := new(big.Int).Add(balance0Before, fee0)
	required1 := new(big.Int).Add(balance1Before, fee1)
	if balance0After.Cmp(required0) < 0 || balance1After.Cmp(required1) < 0 {
		err = ErrFlashNotPaid
		if rerr := p.reclaimFlash(recipient, balance0Before, balance1Before); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}

	// Whatever was paid beyond the pre-flash balance is fee revenue.
	paid0 := new(big.Int).Sub(balance0After, balance0Before)
	paid1 := new(big.Int).Sub(balance1After, balance1Before)

	feeSlice := new(big.Int)
	if paid0.Sign() > 0 {
		if err = fullmath.MulDiv(feeSlice, paid0, fullmath.Q128, p.liquidity); err != nil {
			return err
		}
		fullmath.WrappingAdd(p.feeGrowthGlobal0X128, p.feeGrowthGlobal0X128, feeSlice)
	}
	if paid1.Sign() > 0 {
		if err = fullmath.MulDiv(feeSlice, paid1, fullmath.Q128, p.liquidity); err != nil {
			return err
		}
		fullmath.WrappingAdd(p.feeGrowthGlobal1X128, p.feeGrowthGlobal1X128, feeSlice)
	}

	p.emit(FlashEvent{
		Recipient: recipient,
		Amount0:   new(big.Int).Set(amount0),
		Amount1:   new(big.Int).Set(amount1),
		Paid0:     paid0,
		Paid1:     paid1,
	})
	return nil
}

// reclaimFlash pulls back whatever of the lent principal the recipient still
// holds so a failed flash leaves the pool's balances where they started.
func (p *Pool) reclaimFlash(recipient common.Address, balance0Before, balance1Before *big.Int) error {
	var errs []error
	short0 := new(big.Int).Sub(balance0Before, p.assets.BalanceOf(p.asset0, p.account))
	if short0.Sign() > 0 {
		if terr := p.assets.Transfer(p.asset0, recipient, p.account, short0); terr != nil {
			errs = append(errs, fmt.Errorf("reclaiming asset0: %w", terr))
		}
	}
	short1 := new(big.Int).Sub(balance1Before, p.assets.BalanceOf(p.asset1, p.account))
	if short1.Sign() > 0 {
		if terr := p.assets.Transfer(p.asset1, recipient, p.account, short1); terr != nil {
			errs = append(errs, fmt.Errorf("reclaiming asset1: %w", terr))
		}
	}
	return errors.Join(errs...)
}

// Observe returns cumulative ticks as of each lookback offset. It is a pure
// read served under the pool lock for a consistent snapshot.
func (p *Pool) Observe(secondsAgos []uint32) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	return p.observations.Observe(p.now(), secondsAgos, p.tick, p.obsIndex, p.obsCard)
}

// IncreaseObservationCardinalityNext grows the oracle's capacity target.
// Shrinking or equal targets are a no-op.
func (p *Pool) IncreaseObservationCardinalityNext(next uint16) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.metrics.Observe("increase_cardinality", err) }()

	if !p.initialized {
		return ErrNotInitialized
	}
	old := p.obsCardNext
	updated, err := p.observations.Grow(old, next)
	if err != nil {
		return err
	}
	if updated != old {
		p.obsCardNext = updated
		p.emit(IncreaseObservationCardinalityNextEvent{
			CardinalityNextOld: old,
			CardinalityNextNew: updated,
		})
	}
	return nil
}
