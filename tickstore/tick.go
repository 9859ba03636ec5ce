package tickstore

import (
	"errors"
	"math/big"

	"github.com/defistate/clamm-engine-go/calculator/fullmath"
	"github.com/defistate/clamm-engine-go/calculator/liquiditymath"
	"github.com/defistate/clamm-engine-go/calculator/tickmath"
)

var (
	ErrTickNotSpaced = errors.New("tick not a multiple of tick spacing")

	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Tick carries the per-tick liquidity bookkeeping and the fee growth accrued
// on the side of the tick away from the current price.
type Tick struct {
	LiquidityGross        *big.Int
	LiquidityNet          *big.Int
	FeeGrowthOutside0X128 *big.Int
	FeeGrowthOutside1X128 *big.Int
}

func newTick() *Tick {
	return &Tick{
		LiquidityGross:        new(big.Int),
		LiquidityNet:          new(big.Int),
		FeeGrowthOutside0X128: new(big.Int),
		FeeGrowthOutside1X128: new(big.Int),
	}
}

// Clone returns a deep copy of the tick.
func (t *Tick) Clone() *Tick {
	return &Tick{
		LiquidityGross:        new(big.Int).Set(t.LiquidityGross),
		LiquidityNet:          new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutside0X128: new(big.Int).Set(t.FeeGrowthOutside0X128),
		FeeGrowthOutside1X128: new(big.Int).Set(t.FeeGrowthOutside1X128),
	}
}

// Initialized reports whether any position references this tick as a boundary.
func (t *Tick) Initialized() bool {
	return t.LiquidityGross.Sign() != 0
}

// Store owns the sparse tick map and the initialization bitmap for one pool.
// It is not safe for concurrent use; the owning pool serializes access.
type Store struct {
	spacing             int64
	maxLiquidityPerTick *big.Int
	ticks               map[int64]*Tick
	bitmap              bitmap
}

// New creates an empty tick store for the given tick spacing.
func New(spacing int64) *Store {
	return &Store{
		spacing:             spacing,
		maxLiquidityPerTick: MaxLiquidityPerTick(spacing),
		ticks:               make(map[int64]*Tick),
		bitmap:              make(bitmap),
	}
}

// MaxLiquidityPerTick returns the maximum liquidity a single tick may
// reference so that the total across all usable ticks cannot overflow uint128.
func MaxLiquidityPerTick(spacing int64) *big.Int {
	minCompressed := (tickmath.MinTick / spacing) * spacing
	maxCompressed := (tickmath.MaxTick / spacing) * spacing
	numTicks := (maxCompressed-minCompressed)/spacing + 1
	return new(big.Int).Div(liquiditymath.MaxUint128, big.NewInt(numTicks))
}

// Spacing returns the tick spacing the store was created with.
func (s *Store) Spacing() int64 { return s.spacing }

// Get returns the tick at index, or nil if it was never initialized.
func (s *Store) Get(index int64) *Tick {
	return s.ticks[index]
}

// Update applies a signed liquidity delta to the tick used as a range
// boundary. It seeds the fee-growth-outside snapshot on first initialization
// (all prior fees are assumed to have accrued below the tick iff the tick is
// at or below the current one), maintains the bitmap, and reports whether the
// initialized state flipped.
func (s *Store) Update(index, currentTick int64, liquidityDelta, feeGrowthGlobal0, feeGrowthGlobal1 *big.Int, upper bool) (bool, error) {
	if index%s.spacing != 0 {
		return false, ErrTickNotSpaced
	}

	t := s.ticks[index]
	if t == nil {
		t = newTick()
	}

	grossAfter := new(big.Int)
	if err := liquiditymath.AddDelta(grossAfter, t.LiquidityGross, liquidityDelta); err != nil {
		return false, err
	}
	if grossAfter.Cmp(s.maxLiquidityPerTick) > 0 {
		return false, liquiditymath.ErrLiquidityOverflow
	}
	flipped := (grossAfter.Sign() == 0) != (t.LiquidityGross.Sign() == 0)

	if t.LiquidityGross.Sign() == 0 && index <= currentTick {
		t.FeeGrowthOutside0X128.Set(feeGrowthGlobal0)
		t.FeeGrowthOutside1X128.Set(feeGrowthGlobal1)
	}

	netAfter := new(big.Int)
	if upper {
		netAfter.Sub(t.LiquidityNet, liquidityDelta)
	} else {
		netAfter.Add(t.LiquidityNet, liquidityDelta)
	}
	if netAfter.Cmp(maxInt128) > 0 {
		return false, liquiditymath.ErrLiquidityOverflow
	}
	if netAfter.Cmp(minInt128) < 0 {
		return false, liquiditymath.ErrLiquidityUnderflow
	}

	t.LiquidityGross.Set(grossAfter)
	t.LiquidityNet.Set(netAfter)
	s.ticks[index] = t
	if flipped {
		s.bitmap.flip(index, s.spacing)
	}
	return flipped, nil
}

// Clear removes a tick whose gross liquidity has dropped to zero. The bitmap
// bit was already flipped by the Update that zeroed it.
func (s *Store) Clear(index int64) {
	delete(s.ticks, index)
}

// Cross is called when the current price moves through the tick. It flips the
// outside fee-growth snapshot and returns the net liquidity delta; the caller
// decides the sign by direction.
func (s *Store) Cross(index int64, feeGrowthGlobal0, feeGrowthGlobal1 *big.Int) *big.Int {
	t := s.ticks[index]
	if t == nil {
		return new(big.Int)
	}
	fullmath.WrappingSub(t.FeeGrowthOutside0X128, feeGrowthGlobal0, t.FeeGrowthOutside0X128)
	fullmath.WrappingSub(t.FeeGrowthOutside1X128, feeGrowthGlobal1, t.FeeGrowthOutside1X128)
	return new(big.Int).Set(t.LiquidityNet)
}

// FeeGrowthInside computes the fee growth accrued strictly inside
// [lower, upper) by subtracting the below- and above-range growth from the
// global accumulators. All subtraction is mod 2^256; the identity
// below + inside + above == global holds at all times.
func (s *Store) FeeGrowthInside(lower, upper, currentTick int64, feeGrowthGlobal0, feeGrowthGlobal1 *big.Int) (*big.Int, *big.Int) {
	below0, below1 := s.outsideOrComplement(lower, currentTick >= lower, feeGrowthGlobal0, feeGrowthGlobal1)
	above0, above1 := s.outsideOrComplement(upper, currentTick < upper, feeGrowthGlobal0, feeGrowthGlobal1)

	inside0 := new(big.Int)
	inside1 := new(big.Int)
	fullmath.WrappingSub(inside0, feeGrowthGlobal0, below0)
	fullmath.WrappingSub(inside0, inside0, above0)
	fullmath.WrappingSub(inside1, feeGrowthGlobal1, below1)
	fullmath.WrappingSub(inside1, inside1, above1)
	return inside0, inside1
}

// outsideOrComplement returns a tick's outside growth when the current price
// is on the far side of it, or global minus outside when it is not.
func (s *Store) outsideOrComplement(index int64, direct bool, global0, global1 *big.Int) (*big.Int, *big.Int) {
	t := s.ticks[index]
	if t == nil {
		t = newTick()
	}
	if direct {
		return new(big.Int).Set(t.FeeGrowthOutside0X128), new(big.Int).Set(t.FeeGrowthOutside1X128)
	}
	g0 := new(big.Int)
	g1 := new(big.Int)
	fullmath.WrappingSub(g0, global0, t.FeeGrowthOutside0X128)
	fullmath.WrappingSub(g1, global1, t.FeeGrowthOutside1X128)
	return g0, g1
}

// NextInitializedTickWithinOneWord scans the bitmap word containing the tick
// for the nearest initialized tick. lte searches at-or-below, otherwise
// strictly above. When the word holds no candidate it returns the word
// boundary with initialized == false so the caller can step to the next word.
func (s *Store) NextInitializedTickWithinOneWord(tick int64, lte bool) (int64, bool) {
	return s.bitmap.nextInitialized(tick, s.spacing, lte)
}

// Each invokes fn for every initialized tick. The tick must not be mutated.
func (s *Store) Each(fn func(index int64, t *Tick)) {
	for i, t := range s.ticks {
		fn(i, t)
	}
}

// Len returns the number of stored ticks.
func (s *Store) Len() int { return len(s.ticks) }

// Peek returns a deep copy of a tick for shadowing, and whether it exists.
func (s *Store) Peek(index int64) (*Tick, bool) {
	t := s.ticks[index]
	if t == nil {
		return nil, false
	}
	return t.Clone(), true
}

// Restore puts back a previously peeked tick (or removes it when it did not
// exist) and re-syncs the bitmap bit. Used to unwind a failed operation.
func (s *Store) Restore(index int64, t *Tick, existed bool) {
	if !existed {
		if old := s.ticks[index]; old != nil && old.Initialized() {
			s.bitmap.flip(index, s.spacing)
		}
		delete(s.ticks, index)
		return
	}
	old := s.ticks[index]
	wasSet := old != nil && old.Initialized()
	if wasSet != t.Initialized() {
		s.bitmap.flip(index, s.spacing)
	}
	s.ticks[index] = t.Clone()
}

// Reset drops every tick and bitmap word. Used before reloading a snapshot.
func (s *Store) Reset() {
	s.ticks = make(map[int64]*Tick)
	s.bitmap = make(bitmap)
}

// Put installs a tick directly, keeping the bitmap consistent. Used by
// storage adapters when reloading a snapshot.
func (s *Store) Put(index int64, t *Tick) {
	old := s.ticks[index]
	wasSet := old != nil && old.Initialized()
	if wasSet != t.Initialized() {
		s.bitmap.flip(index, s.spacing)
	}
	s.ticks[index] = t.Clone()
}
