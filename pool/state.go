package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/clamm-engine-go/oracle"
	"github.com/defistate/clamm-engine-go/position"
	"github.com/defistate/clamm-engine-go/tickstore"
)

// State is a deep copy of everything a pool needs to resume: head state,
// accumulators, the tick registry, the position ledger and the oracle ring.
// Storage adapters persist and reload it.
type State struct {
	Asset0      common.Address
	Asset1      common.Address
	Account     common.Address
	FeePips     uint64
	TickSpacing int64

	Initialized                bool
	SqrtPriceX96               *big.Int
	Tick                       int64
	ObservationIndex           uint16
	ObservationCardinality     uint16
	ObservationCardinalityNext uint16

	Liquidity            *big.Int
	FeeGrowthGlobal0X128 *big.Int
	FeeGrowthGlobal1X128 *big.Int

	Ticks        map[int64]*tickstore.Tick
	Positions    map[common.Hash]*position.Position
	Observations []oracle.Observation
}

// State snapshots the pool under its lock.
func (p *Pool) State() *State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := &State{
		Asset0:      p.asset0,
		Asset1:      p.asset1,
		Account:     p.account,
		FeePips:     p.fee,
		TickSpacing: p.tickSpacing,

		Initialized:                p.initialized,
		SqrtPriceX96:               new(big.Int).Set(p.sqrtPriceX96),
		Tick:                       p.tick,
		ObservationIndex:           p.obsIndex,
		ObservationCardinality:     p.obsCard,
		ObservationCardinalityNext: p.obsCardNext,

		Liquidity:            new(big.Int).Set(p.liquidity),
		FeeGrowthGlobal0X128: new(big.Int).Set(p.feeGrowthGlobal0X128),
		FeeGrowthGlobal1X128: new(big.Int).Set(p.feeGrowthGlobal1X128),

		Ticks:        make(map[int64]*tickstore.Tick, p.ticks.Len()),
		Positions:    make(map[common.Hash]*position.Position, p.positions.Len()),
		Observations: make([]oracle.Observation, p.observations.Cardinality()),
	}
	p.ticks.Each(func(index int64, t *tickstore.Tick) {
		st.Ticks[index] = t.Clone()
	})
	p.positions.Each(func(key common.Hash, pos *position.Position) {
		st.Positions[key] = pos.Clone()
	})
	for i := 0; i < p.observations.Cardinality(); i++ {
		st.Observations[i] = p.observations.At(i)
	}
	return st
}

// LoadState replaces the pool's state with a previously captured snapshot.
// Identity fields (assets, fee, spacing) must match the pool's configuration;
// they are descriptive in the snapshot, not authoritative.
func (p *Pool) LoadState(st *State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st.Asset0 != p.asset0 || st.Asset1 != p.asset1 {
		return ErrInvalidConfiguration
	}
	if st.FeePips != p.fee || st.TickSpacing != p.tickSpacing {
		return ErrInvalidConfiguration
	}

	p.initialized = st.Initialized
	p.sqrtPriceX96.Set(st.SqrtPriceX96)
	p.tick = st.Tick
	p.obsIndex = st.ObservationIndex
	p.obsCard = st.ObservationCardinality
	p.obsCardNext = st.ObservationCardinalityNext
	p.liquidity.Set(st.Liquidity)
	p.feeGrowthGlobal0X128.Set(st.FeeGrowthGlobal0X128)
	p.feeGrowthGlobal1X128.Set(st.FeeGrowthGlobal1X128)

	p.ticks.Reset()
	for index, t := range st.Ticks {
		p.ticks.Put(index, t.Clone())
	}
	p.positions.Reset()
	for key, pos := range st.Positions {
		p.positions.Put(key, pos.Clone())
	}
	obs := make([]oracle.Observation, len(st.Observations))
	copy(obs, st.Observations)
	p.observations.Load(obs)

	p.metrics.CurrentTick.Set(float64(p.tick))
	p.metrics.ActiveLiquidity.Set(liquidityFloat(p.liquidity))
	p.metrics.OracleCardinality.Set(float64(p.obsCard))
	return nil
}
