package pool

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/clamm-engine-go/calculator/liquiditymath"
	"github.com/defistate/clamm-engine-go/calculator/sqrtpricemath"
	"github.com/defistate/clamm-engine-go/calculator/tickmath"
	"github.com/defistate/clamm-engine-go/ledger"
	"github.com/defistate/clamm-engine-go/metrics"
	"github.com/defistate/clamm-engine-go/oracle"
	"github.com/defistate/clamm-engine-go/position"
	"github.com/defistate/clamm-engine-go/tickstore"
)

// MintCallback is invoked after mint accounting is committed; it must move
// the owed amounts into the pool's ledger account before returning. data is
// the opaque context the caller supplied to Mint.
type MintCallback func(amount0Owed, amount1Owed *big.Int, data []byte) error

// SwapCallback is invoked after swap accounting is committed and the output
// has been paid out. Positive amounts are owed to the pool, negative were
// paid by it.
type SwapCallback func(amount0Delta, amount1Delta *big.Int, data []byte) error

// FlashCallback is invoked after the flash amounts are paid out; it must
// return the principal plus the quoted fees to the pool's account.
type FlashCallback func(fee0, fee1 *big.Int, data []byte) error

// Config carries the immutable pool parameters and its collaborators.
type Config struct {
	Asset0      common.Address
	Asset1      common.Address
	Account     common.Address // the pool's account on the asset ledger
	FeePips     uint64         // parts-per-million fee on input amounts
	TickSpacing int64

	Ledger     ledger.AssetLedger
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Sink       EventSink
	Now        func() uint32 // defaults to unix time truncated to uint32
}

// Slot0 is the packed mutable head of pool state.
type Slot0 struct {
	SqrtPriceX96               *big.Int
	Tick                       int64
	ObservationIndex           uint16
	ObservationCardinality     uint16
	ObservationCardinalityNext uint16
}

// Pool is a two-asset concentrated-liquidity market. Every operation runs
// under a single mutex: one writer at a time, all-or-nothing per call.
type Pool struct {
	mu sync.Mutex

	asset0      common.Address
	asset1      common.Address
	account     common.Address
	feePips     *big.Int
	fee         uint64
	tickSpacing int64

	initialized  bool
	sqrtPriceX96 *big.Int
	tick         int64
	obsIndex     uint16
	obsCard      uint16
	obsCardNext  uint16

	liquidity            *big.Int
	feeGrowthGlobal0X128 *big.Int
	feeGrowthGlobal1X128 *big.Int

	ticks        *tickstore.Store
	positions    *position.Ledger
	observations *oracle.Oracle

	assets  ledger.AssetLedger
	logger  *slog.Logger
	metrics *metrics.PoolMetrics
	sink    EventSink
	now     func() uint32
}

// New constructs an uninitialized pool. Initialize must be called with the
// starting price before any other operation.
func New(cfg Config) (*Pool, error) {
	if bytes.Compare(cfg.Asset0.Bytes(), cfg.Asset1.Bytes()) >= 0 {
		return nil, ErrAssetOrder
	}
	if cfg.FeePips >= 1_000_000 {
		return nil, fmt.Errorf("%w: fee %d out of range", ErrInvalidConfiguration, cfg.FeePips)
	}
	if cfg.TickSpacing <= 0 {
		return nil, fmt.Errorf("%w: tick spacing %d", ErrInvalidConfiguration, cfg.TickSpacing)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: asset ledger is required", ErrInvalidConfiguration)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() uint32 { return uint32(time.Now().Unix()) }
	}

	return &Pool{
		asset0:               cfg.Asset0,
		asset1:               cfg.Asset1,
		account:              cfg.Account,
		feePips:              new(big.Int).SetUint64(cfg.FeePips),
		fee:                  cfg.FeePips,
		tickSpacing:          cfg.TickSpacing,
		sqrtPriceX96:         new(big.Int),
		liquidity:            new(big.Int),
		feeGrowthGlobal0X128: new(big.Int),
		feeGrowthGlobal1X128: new(big.Int),
		ticks:                tickstore.New(cfg.TickSpacing),
		positions:            position.NewLedger(),
		observations:         oracle.New(),
		assets:               cfg.Ledger,
		logger:               logger.With("component", "pool"),
		metrics:              metrics.New(cfg.Registerer),
		sink:                 cfg.Sink,
		now:                  now,
	}, nil
}

// Initialize sets the starting price and seeds the oracle. It may be called
// exactly once.
func (p *Pool) Initialize(sqrtPriceX96 *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return ErrAlreadyInitialized
	}
	tick, err := tickmath.GetTickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return err
	}
	card, cardNext, err := p.observations.Initialize(p.now())
	if err != nil {
		return err
	}

	p.sqrtPriceX96.Set(sqrtPriceX96)
	p.tick = tick
	p.obsIndex = 0
	p.obsCard = card
	p.obsCardNext = cardNext
	p.initialized = true

	p.metrics.CurrentTick.Set(float64(tick))
	p.metrics.OracleCardinality.Set(float64(card))
	p.logger.Info("pool initialized", "tick", tick, "sqrtPriceX96", sqrtPriceX96.String())
	return nil
}

// Slot0 returns a copy of the mutable head state.
func (p *Pool) Slot0() Slot0 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Slot0{
		SqrtPriceX96:               new(big.Int).Set(p.sqrtPriceX96),
		Tick:                       p.tick,
		ObservationIndex:           p.obsIndex,
		ObservationCardinality:     p.obsCard,
		ObservationCardinalityNext: p.obsCardNext,
	}
}

// Liquidity returns the in-range liquidity.
func (p *Pool) Liquidity() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.liquidity)
}

// FeeGrowthGlobals returns both fee-per-liquidity accumulators.
func (p *Pool) FeeGrowthGlobals() (*big.Int, *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.feeGrowthGlobal0X128), new(big.Int).Set(p.feeGrowthGlobal1X128)
}

// Position returns a copy of a position, zero-valued when absent.
func (p *Pool) Position(owner common.Address, lower, upper int64) *position.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions.Get(owner, lower, upper)
}

// Assets returns the canonical pair identity.
func (p *Pool) Assets() (common.Address, common.Address) {
	return p.asset0, p.asset1
}

// Mint adds liquidity to a range. The callback must pay the returned amounts
// into the pool's ledger account; the whole operation unwinds when the
// post-callback balance check fails.
func (p *Pool) Mint(owner common.Address, lower, upper int64, liquidityAmount *big.Int, cb MintCallback, data []byte) (amount0, amount1 *big.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.metrics.Observe("mint", err) }()

	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}
	if liquidityAmount == nil || liquidityAmount.Sign() <= 0 {
		return nil, nil, ErrZeroLiquidity
	}
	if err := p.checkTicks(lower, upper); err != nil {
		return nil, nil, err
	}

	undo := p.shadow(owner, lower, upper)

	amount0, amount1, err = p.modifyPosition(owner, lower, upper, liquidityAmount)
	if err != nil {
		undo()
		return nil, nil, err
	}

	balance0Before := p.assets.BalanceOf(p.asset0, p.account)
	balance1Before := p.assets.BalanceOf(p.asset1, p.account)

	if cb != nil {
		if cbErr := cb(amount0, amount1, data); cbErr != nil {
			undo()
			return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientInput, cbErr)
		}
	}

	if amount0.Sign() > 0 && !paidAtLeast(balance0Before, p.assets.BalanceOf(p.asset0, p.account), amount0) {
		undo()
		return nil, nil, fmt.Errorf("%w: asset0", ErrInsufficientInput)
	}
	if amount1.Sign() > 0 && !paidAtLeast(balance1Before, p.assets.BalanceOf(p.asset1, p.account), amount1) {
		undo()
		return nil, nil, fmt.Errorf("%w: asset1", ErrInsufficientInput)
	}

	p.emit(MintEvent{
		Owner:     owner,
		TickLower: lower,
		TickUpper: upper,
		Liquidity: new(big.Int).Set(liquidityAmount),
		Amount0:   new(big.Int).Set(amount0),
		Amount1:   new(big.Int).Set(amount1),
	})
	p.metrics.ActiveLiquidity.Set(liquidityFloat(p.liquidity))
	p.logger.Debug("mint",
		"owner", owner, "lower", lower, "upper", upper,
		"liquidity", liquidityAmount.String(),
		"amount0", amount0.String(), "amount1", amount1.String())
	return amount0, amount1, nil
}

// Burn removes liquidity from a range. The freed amounts are credited to the
// position as owed tokens; Collect moves them out. A zero-liquidity burn is a
// poke that only refreshes fee accounting.
func (p *Pool) Burn(owner common.Address, lower, upper int64, liquidityAmount *big.Int) (amount0, amount1 *big.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.metrics.Observe("burn", err) }()

	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}
	if liquidityAmount == nil || liquidityAmount.Sign() < 0 {
		return nil, nil, ErrZeroLiquidity
	}
	if err := p.checkTicks(lower, upper); err != nil {
		return nil, nil, err
	}

	undo := p.shadow(owner, lower, upper)

	delta := new(big.Int).Neg(liquidityAmount)
	amount0, amount1, err = p.modifyPosition(owner, lower, upper, delta)
	if err != nil {
		undo()
		return nil, nil, err
	}

	if amount0.Sign() > 0 || amount1.Sign() > 0 {
		p.positions.Credit(owner, lower, upper, amount0, amount1)
	}

	p.emit(BurnEvent{
		Owner:     owner,
		TickLower: lower,
		TickUpper: upper,
		Liquidity: new(big.Int).Set(liquidityAmount),
		Amount0:   new(big.Int).Set(amount0),
		Amount1:   new(big.Int).Set(amount1),
	})
	p.metrics.ActiveLiquidity.Set(liquidityFloat(p.liquidity))
	return amount0, amount1, nil
}

// Collect transfers owed tokens, up to the requested amounts, to the
// recipient. It never pays more than is owed. A failed transfer restores the
// full owed balances and claws back anything already paid out.
func (p *Pool) Collect(owner, recipient common.Address, lower, upper int64, amount0Requested, amount1Requested *big.Int) (amount0, amount1 *big.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.metrics.Observe("collect", err) }()

	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}

	// Take debits both owed balances at once, so the shadow is captured
	// first and restored whole on any failure.
	pos, existed := p.positions.Peek(owner, lower, upper)
	amount0, amount1 = p.positions.Take(owner, lower, upper, amount0Requested, amount1Requested)

	if amount0.Sign() > 0 {
		if terr := p.assets.Transfer(p.asset0, p.account, recipient, amount0); terr != nil {
			p.positions.Restore(owner, lower, upper, pos, existed)
			return nil, nil, terr
		}
	}
	if amount1.Sign() > 0 {
		if terr := p.assets.Transfer(p.asset1, p.account, recipient, amount1); terr != nil {
			var reclaimErr error
			if amount0.Sign() > 0 {
				reclaimErr = p.assets.Transfer(p.asset0, recipient, p.account, amount0)
			}
			p.positions.Restore(owner, lower, upper, pos, existed)
			if reclaimErr != nil {
				terr = errors.Join(terr, fmt.Errorf("reclaiming asset0: %w", reclaimErr))
			}
			return nil, nil, terr
		}
	}

	p.emit(CollectEvent{
		Owner:     owner,
		Recipient: recipient,
		TickLower: lower,
		TickUpper: upper,
		Amount0:   new(big.Int).Set(amount0),
		Amount1:   new(big.Int).Set(amount1),
	})
	return amount0, amount1, nil
}

// checkTicks validates a range against the global bounds and spacing.
func (p *Pool) checkTicks(lower, upper int64) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickRange, lower, upper)
	}
	if lower < tickmath.MinTick || upper > tickmath.MaxTick {
		return fmt.Errorf("%w: [%d, %d] outside global bounds", ErrInvalidTickRange, lower, upper)
	}
	if lower%p.tickSpacing != 0 || upper%p.tickSpacing != 0 {
		return fmt.Errorf("%w: [%d, %d] not aligned to spacing %d", ErrInvalidTickRange, lower, upper, p.tickSpacing)
	}
	return nil
}

// modifyPosition applies a signed liquidity delta to a position and returns
// the magnitudes of the two asset amounts it moves. Positive deltas round
// amounts up (owed to the pool), negative deltas round down (owed by it).
func (p *Pool) modifyPosition(owner common.Address, lower, upper int64, delta *big.Int) (*big.Int, *big.Int, error) {
	var flippedLower, flippedUpper bool
	if delta.Sign() != 0 {
		var err error
		flippedLower, err = p.ticks.Update(lower, p.tick, delta, p.feeGrowthGlobal0X128, p.feeGrowthGlobal1X128, false)
		if err != nil {
			return nil, nil, err
		}
		flippedUpper, err = p.ticks.Update(upper, p.tick, delta, p.feeGrowthGlobal0X128, p.feeGrowthGlobal1X128, true)
		if err != nil {
			return nil, nil, err
		}
	}

	inside0, inside1 := p.ticks.FeeGrowthInside(lower, upper, p.tick, p.feeGrowthGlobal0X128, p.feeGrowthGlobal1X128)
	if _, err := p.positions.Update(owner, lower, upper, delta, inside0, inside1); err != nil {
		return nil, nil, err
	}

	if delta.Sign() < 0 {
		if flippedLower {
			p.ticks.Clear(lower)
		}
		if flippedUpper {
			p.ticks.Clear(upper)
		}
	}

	amount0 := new(big.Int)
	amount1 := new(big.Int)
	if delta.Sign() == 0 {
		return amount0, amount1, nil
	}

	roundUp := delta.Sign() > 0
	magnitude := new(big.Int).Abs(delta)

	sqrtLower := new(big.Int)
	sqrtUpper := new(big.Int)
	if err := tickmath.GetSqrtRatioAtTick(sqrtLower, lower); err != nil {
		return nil, nil, err
	}
	if err := tickmath.GetSqrtRatioAtTick(sqrtUpper, upper); err != nil {
		return nil, nil, err
	}

	switch {
	case p.tick < lower:
		// Range entirely above the current price: asset0 only.
		if err := sqrtpricemath.GetAmount0Delta(amount0, sqrtLower, sqrtUpper, magnitude, roundUp); err != nil {
			return nil, nil, err
		}
	case p.tick < upper:
		// Straddling: both assets, and the delta is active now.
		if err := sqrtpricemath.GetAmount0Delta(amount0, p.sqrtPriceX96, sqrtUpper, magnitude, roundUp); err != nil {
			return nil, nil, err
		}
		if err := sqrtpricemath.GetAmount1Delta(amount1, sqrtLower, p.sqrtPriceX96, magnitude, roundUp); err != nil {
			return nil, nil, err
		}
		next := new(big.Int)
		if err := liquiditymath.AddDelta(next, p.liquidity, delta); err != nil {
			return nil, nil, err
		}
		p.liquidity.Set(next)
	default:
		// Range entirely below the current price: asset1 only.
		if err := sqrtpricemath.GetAmount1Delta(amount1, sqrtLower, sqrtUpper, magnitude, roundUp); err != nil {
			return nil, nil, err
		}
	}
	return amount0, amount1, nil
}

// shadow captures every structure a mint/burn may touch and returns a closure
// that restores it, preserving the all-or-nothing contract.
func (p *Pool) shadow(owner common.Address, lower, upper int64) func() {
	lowerTick, lowerExisted := p.ticks.Peek(lower)
	upperTick, upperExisted := p.ticks.Peek(upper)
	pos, posExisted := p.positions.Peek(owner, lower, upper)
	liquidity := new(big.Int).Set(p.liquidity)
	return func() {
		p.ticks.Restore(lower, lowerTick, lowerExisted)
		p.ticks.Restore(upper, upperTick, upperExisted)
		p.positions.Restore(owner, lower, upper, pos, posExisted)
		p.liquidity.Set(liquidity)
	}
}

func (p *Pool) emit(evt Event) {
	if p.sink != nil {
		p.sink.Emit(evt)
	}
}

// paidAtLeast reports whether a balance rose by at least the owed amount.
func paidAtLeast(before, after, owed *big.Int) bool {
	delta := new(big.Int).Sub(after, before)
	return delta.Cmp(owed) >= 0
}

// liquidityFloat approximates liquidity for the gauge; precision loss is fine
// for observability.
func liquidityFloat(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
