package position

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defistate/clamm-engine-go/calculator/fullmath"
	"github.com/defistate/clamm-engine-go/calculator/liquiditymath"
)

// ErrNoPosition is returned when a zero-delta update pokes a position that
// holds no liquidity.
var ErrNoPosition = errors.New("position has no liquidity")

// Position tracks one owner's liquidity in one tick range, with the
// fee-growth checkpoint taken at its last mutation.
type Position struct {
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

func newPosition() *Position {
	return &Position{
		Liquidity:                new(big.Int),
		FeeGrowthInside0LastX128: new(big.Int),
		FeeGrowthInside1LastX128: new(big.Int),
		TokensOwed0:              new(big.Int),
		TokensOwed1:              new(big.Int),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	return &Position{
		Liquidity:                new(big.Int).Set(p.Liquidity),
		FeeGrowthInside0LastX128: new(big.Int).Set(p.FeeGrowthInside0LastX128),
		FeeGrowthInside1LastX128: new(big.Int).Set(p.FeeGrowthInside1LastX128),
		TokensOwed0:              new(big.Int).Set(p.TokensOwed0),
		TokensOwed1:              new(big.Int).Set(p.TokensOwed1),
	}
}

// KeyFor derives the canonical position key: keccak256 over the owner address
// and the two boundary ticks packed as 3-byte big-endian two's complement.
// Storage adapters round-trip this exact key.
func KeyFor(owner common.Address, lower, upper int64) common.Hash {
	buf := make([]byte, 0, 26)
	buf = append(buf, owner.Bytes()...)
	buf = appendInt24(buf, lower)
	buf = appendInt24(buf, upper)
	return common.BytesToHash(crypto.Keccak256(buf))
}

func appendInt24(buf []byte, v int64) []byte {
	u := uint32(v) & 0xffffff
	return append(buf, byte(u>>16), byte(u>>8), byte(u))
}

// Ledger is the per-pool position map. Not safe for concurrent use; the
// owning pool serializes access.
type Ledger struct {
	positions map[common.Hash]*Position
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[common.Hash]*Position)}
}

// Get returns a copy of the position, zero-valued when absent.
func (l *Ledger) Get(owner common.Address, lower, upper int64) *Position {
	if p := l.positions[KeyFor(owner, lower, upper)]; p != nil {
		return p.Clone()
	}
	return newPosition()
}

// Update credits fees accrued since the last checkpoint (computed against the
// pre-update liquidity), applies the liquidity delta, and advances the
// checkpoint. Owed tokens only ever grow here; Take is the one way down.
func (l *Ledger) Update(owner common.Address, lower, upper int64, liquidityDelta, feeGrowthInside0, feeGrowthInside1 *big.Int) (*Position, error) {
	key := KeyFor(owner, lower, upper)
	p := l.positions[key]
	if p == nil {
		p = newPosition()
	}

	liquidityNext := new(big.Int)
	if liquidityDelta.Sign() == 0 {
		if p.Liquidity.Sign() == 0 {
			return nil, ErrNoPosition
		}
		liquidityNext.Set(p.Liquidity)
	} else if err := liquiditymath.AddDelta(liquidityNext, p.Liquidity, liquidityDelta); err != nil {
		return nil, err
	}

	delta0 := new(big.Int)
	delta1 := new(big.Int)
	fullmath.WrappingSub(delta0, feeGrowthInside0, p.FeeGrowthInside0LastX128)
	fullmath.WrappingSub(delta1, feeGrowthInside1, p.FeeGrowthInside1LastX128)

	owed0 := new(big.Int)
	owed1 := new(big.Int)
	if err := fullmath.MulDiv(owed0, delta0, p.Liquidity, fullmath.Q128); err != nil {
		return nil, err
	}
	if err := fullmath.MulDiv(owed1, delta1, p.Liquidity, fullmath.Q128); err != nil {
		return nil, err
	}

	p.Liquidity.Set(liquidityNext)
	p.FeeGrowthInside0LastX128.Set(feeGrowthInside0)
	p.FeeGrowthInside1LastX128.Set(feeGrowthInside1)
	p.TokensOwed0.Add(p.TokensOwed0, owed0)
	p.TokensOwed1.Add(p.TokensOwed1, owed1)
	l.positions[key] = p
	return p, nil
}

// Credit adds burn proceeds to the position's owed balances.
func (l *Ledger) Credit(owner common.Address, lower, upper int64, amount0, amount1 *big.Int) {
	p := l.positions[KeyFor(owner, lower, upper)]
	if p == nil {
		return
	}
	p.TokensOwed0.Add(p.TokensOwed0, amount0)
	p.TokensOwed1.Add(p.TokensOwed1, amount1)
}

// Take withdraws up to the requested amounts from the owed balances and
// returns what was actually taken: min(requested, owed) per asset. A nil
// request takes nothing on that side.
func (l *Ledger) Take(owner common.Address, lower, upper int64, amount0Requested, amount1Requested *big.Int) (*big.Int, *big.Int) {
	p := l.positions[KeyFor(owner, lower, upper)]
	if p == nil {
		return new(big.Int), new(big.Int)
	}
	take0 := minBig(amount0Requested, p.TokensOwed0)
	take1 := minBig(amount1Requested, p.TokensOwed1)
	p.TokensOwed0.Sub(p.TokensOwed0, take0)
	p.TokensOwed1.Sub(p.TokensOwed1, take1)
	return take0, take1
}

// Clear removes a fully drained position. Callers clear explicitly after
// collecting; positions persist at zero liquidity until then.
func (l *Ledger) Clear(owner common.Address, lower, upper int64) {
	delete(l.positions, KeyFor(owner, lower, upper))
}

// Each invokes fn for every stored position. The position must not be mutated.
func (l *Ledger) Each(fn func(key common.Hash, p *Position)) {
	for k, p := range l.positions {
		fn(k, p)
	}
}

// Len returns the number of stored positions.
func (l *Ledger) Len() int { return len(l.positions) }

// Peek returns a deep copy for shadowing, and whether the position exists.
func (l *Ledger) Peek(owner common.Address, lower, upper int64) (*Position, bool) {
	p := l.positions[KeyFor(owner, lower, upper)]
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

// Restore unwinds a position to a previously peeked state.
func (l *Ledger) Restore(owner common.Address, lower, upper int64, p *Position, existed bool) {
	key := KeyFor(owner, lower, upper)
	if !existed {
		delete(l.positions, key)
		return
	}
	l.positions[key] = p.Clone()
}

// Reset drops every position. Used before reloading a snapshot.
func (l *Ledger) Reset() {
	l.positions = make(map[common.Hash]*Position)
}

// Put installs a position under an already-derived key. Used by storage
// adapters when reloading a snapshot.
func (l *Ledger) Put(key common.Hash, p *Position) {
	l.positions[key] = p.Clone()
}

func minBig(a, b *big.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
