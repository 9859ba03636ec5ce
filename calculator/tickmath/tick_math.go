package tickmath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the minimum tick that may be passed to GetSqrtRatioAtTick.
	MinTick = int64(-887272)
	// MaxTick is the maximum tick that may be passed to GetSqrtRatioAtTick.
	MaxTick = int64(887272)
)

var (
	// MinSqrtRatio is the sqrt price at MinTick.
	MinSqrtRatio = big.NewInt(4295128739)
	// MaxSqrtRatio is the sqrt price at MaxTick.
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")

	one        = uint256.NewInt(1)
	maxUint256 = uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	// ratioSeedOdd is sqrt(1.0001^-1) in UQ128.128, applied when the lowest
	// bit of |tick| is set; ratioSeedEven is 1 in UQ128.128.
	ratioSeedOdd  = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	ratioSeedEven = uint256.MustFromHex("0x100000000000000000000000000000000")

	// bitRatios[i] is sqrt(1.0001^-(2^(i+1))) in UQ128.128. Multiplying the
	// accumulator by the entry for every set bit of |tick| performs the
	// bit-decomposition exponentiation. The hex values must match the
	// reference constants exactly for bit-exact prices.
	bitRatios = [19]*uint256.Int{
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}

	// roundingMask selects the low 32 bits dropped when narrowing from
	// UQ128.128 to Q64.96; a nonzero remainder rounds the result up.
	roundingMask = uint256.MustFromHex("0xffffffff")
)

// scratch holds reusable values so the hot path stays allocation-free.
type scratch struct {
	ratio *uint256.Int
	rem   *uint256.Int
	probe *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &scratch{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
			probe: new(big.Int),
		}
	},
}

// GetSqrtRatioAtTick writes sqrt(1.0001^tick) * 2^96 into dest.
func GetSqrtRatioAtTick(dest *big.Int, tick int64) error {
	if tick < MinTick || tick > MaxTick {
		return ErrTickOutOfBounds
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	absTick := tick
	if tick < 0 {
		absTick = -tick
	}

	if absTick&1 != 0 {
		s.ratio.Set(ratioSeedOdd)
	} else {
		s.ratio.Set(ratioSeedEven)
	}
	for i, r := range bitRatios {
		if absTick&(1<<(i+1)) != 0 {
			s.ratio.Mul(s.ratio, r).Rsh(s.ratio, 128)
		}
	}

	// The constants encode negative exponents; positive ticks take the
	// reciprocal.
	if tick > 0 {
		s.ratio.Div(maxUint256, s.ratio)
	}

	// Narrow UQ128.128 -> Q64.96, rounding up.
	s.rem.And(s.ratio, roundingMask)
	s.ratio.Rsh(s.ratio, 32)
	if !s.rem.IsZero() {
		s.ratio.Add(s.ratio, one)
	}

	s.ratio.IntoBig(&dest)
	return nil
}

// GetTickAtSqrtRatio returns the greatest tick whose sqrt ratio is at most
// sqrtPriceX96. It is the exact left-inverse of GetSqrtRatioAtTick: for every
// valid tick t, GetTickAtSqrtRatio(GetSqrtRatioAtTick(t)) == t.
func GetTickAtSqrtRatio(sqrtPriceX96 *big.Int) (int64, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	// Binary search over tick space; the forward function is strictly
	// increasing, so the invariant ratio(tick) <= target < ratio(tick+1)
	// pins down a unique answer.
	low, high := MinTick, MaxTick
	var tick int64
	for low <= high {
		mid := (low + high) / 2
		if err := GetSqrtRatioAtTick(s.probe, mid); err != nil {
			return 0, err
		}
		if s.probe.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}
