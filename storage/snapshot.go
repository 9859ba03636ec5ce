package storage

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/clamm-engine-go/oracle"
	"github.com/defistate/clamm-engine-go/pool"
	"github.com/defistate/clamm-engine-go/position"
	"github.com/defistate/clamm-engine-go/tickstore"
)

// Snapshot is the serialized form of pool.State. Big integers travel as
// decimal strings so the encoding survives JSON number limits and database
// numeric columns alike.
type Snapshot struct {
	Asset0      string `json:"asset0"`
	Asset1      string `json:"asset1"`
	Account     string `json:"account"`
	FeePips     uint64 `json:"feePips"`
	TickSpacing int64  `json:"tickSpacing"`

	Initialized                bool   `json:"initialized"`
	SqrtPriceX96               string `json:"sqrtPriceX96"`
	Tick                       int64  `json:"tick"`
	ObservationIndex           uint16 `json:"observationIndex"`
	ObservationCardinality     uint16 `json:"observationCardinality"`
	ObservationCardinalityNext uint16 `json:"observationCardinalityNext"`

	Liquidity            string `json:"liquidity"`
	FeeGrowthGlobal0X128 string `json:"feeGrowthGlobal0X128"`
	FeeGrowthGlobal1X128 string `json:"feeGrowthGlobal1X128"`

	Ticks        []TickRow        `json:"ticks"`
	Positions    []PositionRow    `json:"positions"`
	Observations []ObservationRow `json:"observations"`
}

// TickRow is one initialized tick.
type TickRow struct {
	Index                 int64  `json:"index"`
	LiquidityGross        string `json:"liquidityGross"`
	LiquidityNet          string `json:"liquidityNet"`
	FeeGrowthOutside0X128 string `json:"feeGrowthOutside0X128"`
	FeeGrowthOutside1X128 string `json:"feeGrowthOutside1X128"`
}

// PositionRow is one position keyed by its derived hash.
type PositionRow struct {
	Key                      string `json:"key"`
	Liquidity                string `json:"liquidity"`
	FeeGrowthInside0LastX128 string `json:"feeGrowthInside0LastX128"`
	FeeGrowthInside1LastX128 string `json:"feeGrowthInside1LastX128"`
	TokensOwed0              string `json:"tokensOwed0"`
	TokensOwed1              string `json:"tokensOwed1"`
}

// ObservationRow is one oracle slot, in ring order.
type ObservationRow struct {
	BlockTimestamp uint32 `json:"blockTimestamp"`
	TickCumulative int64  `json:"tickCumulative"`
	Initialized    bool   `json:"initialized"`
}

// Encode flattens a pool state into its serialized form. Rows are sorted so
// repeated snapshots of the same state are byte-identical.
func Encode(st *pool.State) *Snapshot {
	snap := &Snapshot{
		Asset0:      st.Asset0.Hex(),
		Asset1:      st.Asset1.Hex(),
		Account:     st.Account.Hex(),
		FeePips:     st.FeePips,
		TickSpacing: st.TickSpacing,

		Initialized:                st.Initialized,
		SqrtPriceX96:               st.SqrtPriceX96.String(),
		Tick:                       st.Tick,
		ObservationIndex:           st.ObservationIndex,
		ObservationCardinality:     st.ObservationCardinality,
		ObservationCardinalityNext: st.ObservationCardinalityNext,

		Liquidity:            st.Liquidity.String(),
		FeeGrowthGlobal0X128: st.FeeGrowthGlobal0X128.String(),
		FeeGrowthGlobal1X128: st.FeeGrowthGlobal1X128.String(),

		Ticks:        make([]TickRow, 0, len(st.Ticks)),
		Positions:    make([]PositionRow, 0, len(st.Positions)),
		Observations: make([]ObservationRow, 0, len(st.Observations)),
	}

	for index, t := range st.Ticks {
		snap.Ticks = append(snap.Ticks, TickRow{
			Index:                 index,
			LiquidityGross:        t.LiquidityGross.String(),
			LiquidityNet:          t.LiquidityNet.String(),
			FeeGrowthOutside0X128: t.FeeGrowthOutside0X128.String(),
			FeeGrowthOutside1X128: t.FeeGrowthOutside1X128.String(),
		})
	}
	sort.Slice(snap.Ticks, func(i, j int) bool { return snap.Ticks[i].Index < snap.Ticks[j].Index })

	for key, p := range st.Positions {
		snap.Positions = append(snap.Positions, PositionRow{
			Key:                      key.Hex(),
			Liquidity:                p.Liquidity.String(),
			FeeGrowthInside0LastX128: p.FeeGrowthInside0LastX128.String(),
			FeeGrowthInside1LastX128: p.FeeGrowthInside1LastX128.String(),
			TokensOwed0:              p.TokensOwed0.String(),
			TokensOwed1:              p.TokensOwed1.String(),
		})
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Key < snap.Positions[j].Key })

	for _, o := range st.Observations {
		snap.Observations = append(snap.Observations, ObservationRow{
			BlockTimestamp: o.BlockTimestamp,
			TickCumulative: o.TickCumulative,
			Initialized:    o.Initialized,
		})
	}
	return snap
}

// Decode rebuilds a pool state from its serialized form.
func Decode(snap *Snapshot) (*pool.State, error) {
	st := &pool.State{
		Asset0:      common.HexToAddress(snap.Asset0),
		Asset1:      common.HexToAddress(snap.Asset1),
		Account:     common.HexToAddress(snap.Account),
		FeePips:     snap.FeePips,
		TickSpacing: snap.TickSpacing,

		Initialized:                snap.Initialized,
		Tick:                       snap.Tick,
		ObservationIndex:           snap.ObservationIndex,
		ObservationCardinality:     snap.ObservationCardinality,
		ObservationCardinalityNext: snap.ObservationCardinalityNext,

		Ticks:        make(map[int64]*tickstore.Tick, len(snap.Ticks)),
		Positions:    make(map[common.Hash]*position.Position, len(snap.Positions)),
		Observations: make([]oracle.Observation, len(snap.Observations)),
	}

	var err error
	if st.SqrtPriceX96, err = parseBig("sqrtPriceX96", snap.SqrtPriceX96); err != nil {
		return nil, err
	}
	if st.Liquidity, err = parseBig("liquidity", snap.Liquidity); err != nil {
		return nil, err
	}
	if st.FeeGrowthGlobal0X128, err = parseBig("feeGrowthGlobal0X128", snap.FeeGrowthGlobal0X128); err != nil {
		return nil, err
	}
	if st.FeeGrowthGlobal1X128, err = parseBig("feeGrowthGlobal1X128", snap.FeeGrowthGlobal1X128); err != nil {
		return nil, err
	}

	for _, row := range snap.Ticks {
		t := &tickstore.Tick{}
		if t.LiquidityGross, err = parseBig("liquidityGross", row.LiquidityGross); err != nil {
			return nil, err
		}
		if t.LiquidityNet, err = parseBig("liquidityNet", row.LiquidityNet); err != nil {
			return nil, err
		}
		if t.FeeGrowthOutside0X128, err = parseBig("feeGrowthOutside0X128", row.FeeGrowthOutside0X128); err != nil {
			return nil, err
		}
		if t.FeeGrowthOutside1X128, err = parseBig("feeGrowthOutside1X128", row.FeeGrowthOutside1X128); err != nil {
			return nil, err
		}
		st.Ticks[row.Index] = t
	}

	for _, row := range snap.Positions {
		p := &position.Position{}
		if p.Liquidity, err = parseBig("liquidity", row.Liquidity); err != nil {
			return nil, err
		}
		if p.FeeGrowthInside0LastX128, err = parseBig("feeGrowthInside0LastX128", row.FeeGrowthInside0LastX128); err != nil {
			return nil, err
		}
		if p.FeeGrowthInside1LastX128, err = parseBig("feeGrowthInside1LastX128", row.FeeGrowthInside1LastX128); err != nil {
			return nil, err
		}
		if p.TokensOwed0, err = parseBig("tokensOwed0", row.TokensOwed0); err != nil {
			return nil, err
		}
		if p.TokensOwed1, err = parseBig("tokensOwed1", row.TokensOwed1); err != nil {
			return nil, err
		}
		st.Positions[common.HexToHash(row.Key)] = p
	}

	for i, row := range snap.Observations {
		st.Observations[i] = oracle.Observation{
			BlockTimestamp: row.BlockTimestamp,
			TickCumulative: row.TickCumulative,
			Initialized:    row.Initialized,
		}
	}
	return st, nil
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("snapshot field %s: invalid integer %q", field, s)
	}
	return v, nil
}
