package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/clamm-engine-go/calculator/tickmath"
)

func TestSwapReferenceExactIn(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)

	amountIn := bi("13370000000000000")
	h.fund(bob, amountIn, nil)

	res, err := h.pool.Swap(bob, true, amountIn, nil, h.paySwap(bob), nil)
	require.NoError(t, err)

	assert.Equal(t, testAsset0, res.AssetIn)
	assert.Equal(t, testAsset1, res.AssetOut)
	assert.Zero(t, amountIn.Cmp(res.AmountIn))
	// Exact round-down output for a pool seeded at the tick-85176 sqrt
	// price itself, slightly below the textbook 66.808 figure quoted for
	// a mid-tick start; see DESIGN.md.
	assert.Zero(t, bi("66807117064346457625").Cmp(res.AmountOut), "amountOut = %s", res.AmountOut)

	slot := h.pool.Slot0()
	assert.Equal(t, int64(85163), slot.Tick)
	assert.Zero(t, bi("5598736657153868581057570267655").Cmp(slot.SqrtPriceX96))

	// No tick was crossed, so the active liquidity is unchanged.
	assert.Zero(t, refLiquidity.Cmp(h.pool.Liquidity()))

	// The ledger moved exactly the reported amounts.
	assert.Zero(t, h.assets.BalanceOf(testAsset0, bob).Sign())
	assert.Zero(t, res.AmountOut.Cmp(h.assets.BalanceOf(testAsset1, bob)))
	wantPool0 := new(big.Int).Add(refAmount0, amountIn)
	wantPool1 := new(big.Int).Sub(refAmount1, res.AmountOut)
	assert.Zero(t, wantPool0.Cmp(h.assets.BalanceOf(testAsset0, testAccount)))
	assert.Zero(t, wantPool1.Cmp(h.assets.BalanceOf(testAsset1, testAccount)))

	// The event carries the signed convention: positive owed to the pool.
	require.Len(t, h.events, 1)
	evt, ok := h.events[0].(SwapEvent)
	require.True(t, ok)
	assert.Zero(t, amountIn.Cmp(evt.Amount0))
	assert.Zero(t, new(big.Int).Neg(res.AmountOut).Cmp(evt.Amount1))
	assert.Equal(t, int64(85163), evt.Tick)
}

func TestSwapExactOut(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)
	h.fund(bob, bi("1000000000000000000"), nil)

	want := bi("2000000000000000000")
	res, err := h.pool.Swap(bob, true, new(big.Int).Neg(want), nil, h.paySwap(bob), nil)
	require.NoError(t, err)

	// Not limit-capped, so the pool delivers exactly what was asked.
	assert.Zero(t, want.Cmp(res.AmountOut))
	assert.Positive(t, res.AmountIn.Sign())
	assert.Negative(t, h.pool.Slot0().SqrtPriceX96.Cmp(refPriceX96))
}

func TestSwapOneForZero(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)

	amountIn := bi("5000000000000000000")
	h.fund(bob, nil, amountIn)

	res, err := h.pool.Swap(bob, false, amountIn, nil, h.paySwap(bob), nil)
	require.NoError(t, err)

	assert.Equal(t, testAsset1, res.AssetIn)
	assert.Equal(t, testAsset0, res.AssetOut)
	assert.Positive(t, res.AmountOut.Sign())

	slot := h.pool.Slot0()
	assert.Positive(t, slot.SqrtPriceX96.Cmp(refPriceX96))
	assert.GreaterOrEqual(t, slot.Tick, int64(85176))
}

func TestSwapPriceLimitPartialFill(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)

	limit := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(limit, 85100))

	amountIn := bi("1000000000000000000000000")
	h.fund(bob, amountIn, nil)

	res, err := h.pool.Swap(bob, true, amountIn, limit, h.paySwap(bob), nil)
	require.NoError(t, err)

	// The swap stops on the limit with input left over.
	slot := h.pool.Slot0()
	assert.Zero(t, limit.Cmp(slot.SqrtPriceX96))
	assert.Equal(t, int64(85100), slot.Tick)
	assert.Negative(t, res.AmountIn.Cmp(amountIn))
	assert.Positive(t, res.AmountOut.Sign())

	// Unconsumed input stays with the trader.
	left := new(big.Int).Sub(amountIn, res.AmountIn)
	assert.Zero(t, left.Cmp(h.assets.BalanceOf(testAsset0, bob)))
}

func TestSwapDrainsRange(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)

	amountIn := bi("1000000000000000000000000")
	h.fund(bob, amountIn, nil)

	res, err := h.pool.Swap(bob, true, amountIn, nil, h.paySwap(bob), nil)
	require.NoError(t, err)

	// Crossing the lower boundary deactivates the range.
	assert.Zero(t, h.pool.Liquidity().Sign())

	slot := h.pool.Slot0()
	wantPrice := new(big.Int).Add(tickmath.MinSqrtRatio, big.NewInt(1))
	assert.Zero(t, wantPrice.Cmp(slot.SqrtPriceX96))
	assert.Equal(t, tickmath.MinTick, slot.Tick)

	// The pool pays out at most what the range held, short only of
	// per-step rounding dust, and never goes insolvent.
	assert.LessOrEqual(t, res.AmountOut.Cmp(refAmount1), 0)
	dust := new(big.Int).Sub(refAmount1, res.AmountOut)
	assert.LessOrEqual(t, dust.Cmp(big.NewInt(10)), 0, "dust = %s", dust)
	assert.GreaterOrEqual(t, h.assets.BalanceOf(testAsset1, testAccount).Sign(), 0)
}

func TestSwapValidation(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)

	_, err := h.pool.Swap(bob, true, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrZeroAmount)
	_, err = h.pool.Swap(bob, true, big.NewInt(0), nil, nil, nil)
	assert.ErrorIs(t, err, ErrZeroAmount)

	// Limits on the wrong side of the current price.
	above := new(big.Int).Add(refPriceX96, big.NewInt(1))
	below := new(big.Int).Sub(refPriceX96, big.NewInt(1))
	_, err = h.pool.Swap(bob, true, big.NewInt(1), above, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPriceLimit)
	_, err = h.pool.Swap(bob, false, big.NewInt(1), below, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPriceLimit)

	// Limits outside the representable price range.
	_, err = h.pool.Swap(bob, true, big.NewInt(1), tickmath.MinSqrtRatio, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPriceLimit)
	_, err = h.pool.Swap(bob, false, big.NewInt(1), tickmath.MaxSqrtRatio, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPriceLimit)
}

func TestSwapUnpaidRollsBack(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)

	before := h.pool.Slot0()
	liqBefore := h.pool.Liquidity()
	g0Before, g1Before := h.pool.FeeGrowthGlobals()
	pool0 := h.assets.BalanceOf(testAsset0, testAccount)
	pool1 := h.assets.BalanceOf(testAsset1, testAccount)

	amountIn := bi("13370000000000000")
	h.fund(bob, amountIn, nil)

	// Callback fails outright.
	_, err := h.pool.Swap(bob, true, amountIn, nil,
		func(_, _ *big.Int, _ []byte) error { return errors.New("broke") }, nil)
	assert.ErrorIs(t, err, ErrInsufficientInput)

	// Callback succeeds but pays nothing.
	_, err = h.pool.Swap(bob, true, amountIn, nil,
		func(_, _ *big.Int, _ []byte) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrInsufficientInput)

	// Every piece of state is back where it started.
	after := h.pool.Slot0()
	assert.Equal(t, before.Tick, after.Tick)
	assert.Zero(t, before.SqrtPriceX96.Cmp(after.SqrtPriceX96))
	assert.Equal(t, before.ObservationIndex, after.ObservationIndex)
	assert.Equal(t, before.ObservationCardinality, after.ObservationCardinality)
	assert.Zero(t, liqBefore.Cmp(h.pool.Liquidity()))
	g0, g1 := h.pool.FeeGrowthGlobals()
	assert.Zero(t, g0Before.Cmp(g0))
	assert.Zero(t, g1Before.Cmp(g1))
	assert.Zero(t, pool0.Cmp(h.assets.BalanceOf(testAsset0, testAccount)))
	assert.Zero(t, pool1.Cmp(h.assets.BalanceOf(testAsset1, testAccount)))
	assert.Zero(t, amountIn.Cmp(h.assets.BalanceOf(testAsset0, bob)))
	assert.Zero(t, h.assets.BalanceOf(testAsset1, bob).Sign())
	assert.Empty(t, h.events)
}

func TestSwapFeeAccrual(t *testing.T) {
	h := newHarness(t, 3000, 60)
	require.NoError(t, h.pool.Initialize(refPriceX96))

	lower, upper := int64(84240), int64(86100)
	h.fund(alice, bi("2000000000000000000"), bi("6000000000000000000000"))
	_, _, err := h.pool.Mint(alice, lower, upper, refLiquidity, h.payMint(alice), nil)
	require.NoError(t, err)

	amountIn := bi("10000000000000000")
	h.fund(bob, amountIn, nil)
	res, err := h.pool.Swap(bob, true, amountIn, nil, h.paySwap(bob), nil)
	require.NoError(t, err)
	assert.Zero(t, amountIn.Cmp(res.AmountIn), "fees are part of the input")

	// Fees accrue on the input side only.
	g0, g1 := h.pool.FeeGrowthGlobals()
	assert.Positive(t, g0.Sign())
	assert.Zero(t, g1.Sign())

	// A poke folds the accrued fees into the position as owed tokens.
	_, _, err = h.pool.Burn(alice, lower, upper, big.NewInt(0))
	require.NoError(t, err)
	pos := h.pool.Position(alice, lower, upper)
	owed0 := new(big.Int).Set(pos.TokensOwed0)
	assert.Positive(t, owed0.Sign())
	assert.Negative(t, owed0.Cmp(amountIn))
	assert.Zero(t, pos.TokensOwed1.Sign())

	got0, _, err := h.pool.Collect(alice, alice, lower, upper, owed0, nil)
	require.NoError(t, err)
	assert.Zero(t, owed0.Cmp(got0))
	assert.Zero(t, owed0.Cmp(h.assets.BalanceOf(testAsset0, alice)))

	// Collection is monotonic: nothing new without new trades.
	_, _, err = h.pool.Burn(alice, lower, upper, big.NewInt(0))
	require.NoError(t, err)
	got0, _, err = h.pool.Collect(alice, alice, lower, upper, owed0, nil)
	require.NoError(t, err)
	assert.Zero(t, got0.Sign())
}

func TestSwapFeeSkipsZeroLiquidityGap(t *testing.T) {
	h := newHarness(t, 3000, 60)
	require.NoError(t, h.pool.Initialize(refPriceX96))

	// Two disjoint ranges with an empty gap between them. The price starts
	// inside the upper range and the swap traverses the gap into the lower
	// one.
	upperLo, upperHi := int64(84960), int64(86100)
	lowerLo, lowerHi := int64(84240), int64(84600)
	h.fund(alice, bi("2000000000000000000"), bi("4000000000000000000000"))
	_, _, err := h.pool.Mint(alice, upperLo, upperHi, refLiquidity, h.payMint(alice), nil)
	require.NoError(t, err)
	_, _, err = h.pool.Mint(alice, lowerLo, lowerHi, refLiquidity, h.payMint(alice), nil)
	require.NoError(t, err)

	limit := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(limit, 84300))
	amountIn := bi("10000000000000000000")
	h.fund(bob, amountIn, nil)

	res, err := h.pool.Swap(bob, true, amountIn, limit, h.paySwap(bob), nil)
	require.NoError(t, err)

	// The traversal landed inside the lower range with only its liquidity
	// active.
	slot := h.pool.Slot0()
	assert.Zero(t, limit.Cmp(slot.SqrtPriceX96))
	assert.Equal(t, int64(84300), slot.Tick)
	assert.Zero(t, refLiquidity.Cmp(h.pool.Liquidity()))
	assert.Negative(t, res.AmountIn.Cmp(amountIn))

	g0, g1 := h.pool.FeeGrowthGlobals()
	assert.Positive(t, g0.Sign())
	assert.Zero(t, g1.Sign())

	// Growth accrued to both traversed ranges but not to the empty gap:
	// with no liquidity in range there is nobody to attribute fees to.
	gapIn0, gapIn1 := h.pool.ticks.FeeGrowthInside(lowerHi, upperLo, slot.Tick, g0, g1)
	assert.Zero(t, gapIn0.Sign())
	assert.Zero(t, gapIn1.Sign())
	upperIn0, _ := h.pool.ticks.FeeGrowthInside(upperLo, upperHi, slot.Tick, g0, g1)
	assert.Positive(t, upperIn0.Sign())
	lowerIn0, _ := h.pool.ticks.FeeGrowthInside(lowerLo, lowerHi, slot.Tick, g0, g1)
	assert.Positive(t, lowerIn0.Sign())

	// Both positions end up owed a share of the fees after a poke.
	_, _, err = h.pool.Burn(alice, upperLo, upperHi, big.NewInt(0))
	require.NoError(t, err)
	_, _, err = h.pool.Burn(alice, lowerLo, lowerHi, big.NewInt(0))
	require.NoError(t, err)
	owedUpper := h.pool.Position(alice, upperLo, upperHi).TokensOwed0
	owedLower := h.pool.Position(alice, lowerLo, lowerHi).TokensOwed0
	assert.Positive(t, owedUpper.Sign())
	assert.Positive(t, owedLower.Sign())
	total := new(big.Int).Add(owedUpper, owedLower)
	assert.Negative(t, total.Cmp(res.AmountIn))
}

func TestFlash(t *testing.T) {
	h := newHarness(t, 3000, 1)
	h.seedRefPosition(t)

	principal := bi("1000000000000000")
	wantFee := bi("3000000000000")

	t.Run("repaid with fee", func(t *testing.T) {
		h.fund(bob, wantFee, nil)
		pool0Before := h.assets.BalanceOf(testAsset0, testAccount)
		g0Before, _ := h.pool.FeeGrowthGlobals()

		var quotedFee *big.Int
		err := h.pool.Flash(bob, principal, nil, func(fee0, fee1 *big.Int, _ []byte) error {
			quotedFee = new(big.Int).Set(fee0)
			repay := new(big.Int).Add(principal, fee0)
			return h.assets.Transfer(testAsset0, bob, testAccount, repay)
		}, nil)
		require.NoError(t, err)
		assert.Zero(t, wantFee.Cmp(quotedFee))

		// The pool nets exactly the fee, and growth credits it to liquidity.
		want := new(big.Int).Add(pool0Before, wantFee)
		assert.Zero(t, want.Cmp(h.assets.BalanceOf(testAsset0, testAccount)))
		g0, _ := h.pool.FeeGrowthGlobals()
		assert.Positive(t, g0.Cmp(g0Before))

		require.Len(t, h.events, 1)
		evt, ok := h.events[0].(FlashEvent)
		require.True(t, ok)
		assert.Zero(t, principal.Cmp(evt.Amount0))
		assert.Zero(t, wantFee.Cmp(evt.Paid0))
		h.events = h.events[:0]
	})

	t.Run("not repaid", func(t *testing.T) {
		pool0Before := h.assets.BalanceOf(testAsset0, testAccount)
		g0Before, _ := h.pool.FeeGrowthGlobals()

		err := h.pool.Flash(bob, principal, nil, func(_, _ *big.Int, _ []byte) error {
			return nil // keeps the money
		}, nil)
		assert.ErrorIs(t, err, ErrFlashNotPaid)

		// The principal was clawed back and nothing accrued.
		assert.Zero(t, pool0Before.Cmp(h.assets.BalanceOf(testAsset0, testAccount)))
		g0, _ := h.pool.FeeGrowthGlobals()
		assert.Zero(t, g0Before.Cmp(g0))
		assert.Empty(t, h.events)
	})

	t.Run("no active liquidity", func(t *testing.T) {
		idle := newHarness(t, 3000, 1)
		require.NoError(t, idle.pool.Initialize(refPriceX96))
		err := idle.pool.Flash(bob, principal, nil, nil, nil)
		assert.ErrorIs(t, err, ErrNotEnoughLiquidity)
	})
}

func TestObserveTWAP(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.seedRefPosition(t)

	require.NoError(t, h.pool.IncreaseObservationCardinalityNext(4))
	require.Len(t, h.events, 1)
	grow, ok := h.events[0].(IncreaseObservationCardinalityNextEvent)
	require.True(t, ok)
	assert.Equal(t, uint16(1), grow.CardinalityNextOld)
	assert.Equal(t, uint16(4), grow.CardinalityNextNew)
	assert.Equal(t, uint16(4), h.pool.Slot0().ObservationCardinalityNext)
	h.events = h.events[:0]

	// Shrinking is a silent no-op.
	require.NoError(t, h.pool.IncreaseObservationCardinalityNext(2))
	assert.Empty(t, h.events)
	assert.Equal(t, uint16(4), h.pool.Slot0().ObservationCardinalityNext)

	// Sixty seconds at tick 85176, then a trade moves the pool to 85163.
	// The observation written by the trade credits the elapsed interval to
	// the tick that prevailed during it.
	h.clock.advance(60)
	amountIn := bi("13370000000000000")
	h.fund(bob, amountIn, nil)
	_, err := h.pool.Swap(bob, true, amountIn, nil, h.paySwap(bob), nil)
	require.NoError(t, err)

	slot := h.pool.Slot0()
	assert.Equal(t, int64(85163), slot.Tick)
	assert.Equal(t, uint16(1), slot.ObservationIndex)
	assert.Equal(t, uint16(4), slot.ObservationCardinality)

	cumulatives, err := h.pool.Observe([]uint32{0, 60})
	require.NoError(t, err)
	require.Len(t, cumulatives, 2)
	assert.Equal(t, int64(85176*60), cumulatives[0])
	assert.Equal(t, int64(0), cumulatives[1])
	assert.Equal(t, int64(85176), (cumulatives[0]-cumulatives[1])/60)

	// Reads have no side effects.
	again, err := h.pool.Observe([]uint32{0, 60})
	require.NoError(t, err)
	assert.Equal(t, cumulatives, again)

	// Forty more quiet seconds extrapolate at the current tick.
	h.clock.advance(40)
	cumulatives, err = h.pool.Observe([]uint32{0})
	require.NoError(t, err)
	assert.Equal(t, int64(85176*60+85163*40), cumulatives[0])
}
