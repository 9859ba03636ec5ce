package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is one of the typed event structs below. Every operation emits an
// event carrying its full inputs and computed outputs; together they form the
// pool's audit trail.
type Event any

// EventSink receives pool events. Emit is called with the pool lock held, so
// implementations must not call back into the pool; fan out asynchronously.
type EventSink interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(evt Event)

func (f SinkFunc) Emit(evt Event) { f(evt) }

type MintEvent struct {
	Owner     common.Address `json:"owner"`
	TickLower int64          `json:"tickLower"`
	TickUpper int64          `json:"tickUpper"`
	Liquidity *big.Int       `json:"liquidity"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

type BurnEvent struct {
	Owner     common.Address `json:"owner"`
	TickLower int64          `json:"tickLower"`
	TickUpper int64          `json:"tickUpper"`
	Liquidity *big.Int       `json:"liquidity"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

type CollectEvent struct {
	Owner     common.Address `json:"owner"`
	Recipient common.Address `json:"recipient"`
	TickLower int64          `json:"tickLower"`
	TickUpper int64          `json:"tickUpper"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

// SwapEvent carries signed amounts: negative means the pool paid the asset
// out. The typed SwapResult returned to callers is the primary API; the event
// keeps the reference's signed convention for audit parity.
type SwapEvent struct {
	Recipient    common.Address `json:"recipient"`
	Amount0      *big.Int       `json:"amount0"`
	Amount1      *big.Int       `json:"amount1"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Liquidity    *big.Int       `json:"liquidity"`
	Tick         int64          `json:"tick"`
}

type FlashEvent struct {
	Recipient common.Address `json:"recipient"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
	Paid0     *big.Int       `json:"paid0"`
	Paid1     *big.Int       `json:"paid1"`
}

type IncreaseObservationCardinalityNextEvent struct {
	CardinalityNextOld uint16 `json:"cardinalityNextOld"`
	CardinalityNextNew uint16 `json:"cardinalityNextNew"`
}
