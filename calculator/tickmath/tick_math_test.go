package tickmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

// encodePriceSqrt builds sqrt(reserve1/reserve0) in Q64.96.
func encodePriceSqrt(reserve1, reserve0 *big.Int) *big.Int {
	num := new(big.Int).Mul(reserve1, new(big.Int).Lsh(big.NewInt(1), 192))
	ratio := new(big.Int).Div(num, reserve0)
	return new(big.Int).Sqrt(ratio)
}

func TestGetSqrtRatioAtTick(t *testing.T) {
	t.Run("throws for too low", func(t *testing.T) {
		temp := new(big.Int)
		err := GetSqrtRatioAtTick(temp, MinTick-1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("throws for too high", func(t *testing.T) {
		temp := new(big.Int)
		err := GetSqrtRatioAtTick(temp, MaxTick+1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("min tick", func(t *testing.T) {
		sqrtP := new(big.Int)
		err := GetSqrtRatioAtTick(sqrtP, MinTick)
		require.NoError(t, err)
		assert.Zero(t, MinSqrtRatio.Cmp(sqrtP))
	})

	t.Run("max tick", func(t *testing.T) {
		sqrtP := new(big.Int)
		err := GetSqrtRatioAtTick(sqrtP, MaxTick)
		require.NoError(t, err)
		assert.Zero(t, MaxSqrtRatio.Cmp(sqrtP))
	})

	t.Run("known ticks", func(t *testing.T) {
		cases := []struct {
			tick int64
			want string
		}{
			{0, "79228162514264337593543950336"},
			{1, "79232123823359799118286999568"},
			{-1, "79224201403219477170569942574"},
			{85176, "5602223755577321903022134995689"},
		}
		for _, tc := range cases {
			sqrtP := new(big.Int)
			require.NoError(t, GetSqrtRatioAtTick(sqrtP, tc.tick))
			assert.Zero(t, fromString(tc.want).Cmp(sqrtP), "tick %d got %s", tc.tick, sqrtP)
		}
	})
}

func TestGetTickAtSqrtRatio(t *testing.T) {
	t.Run("throws for too low", func(t *testing.T) {
		_, err := GetTickAtSqrtRatio(new(big.Int).Sub(MinSqrtRatio, big.NewInt(1)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("throws for too high", func(t *testing.T) {
		_, err := GetTickAtSqrtRatio(MaxSqrtRatio)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("ratio of min tick", func(t *testing.T) {
		tick, err := GetTickAtSqrtRatio(MinSqrtRatio)
		require.NoError(t, err)
		assert.Equal(t, MinTick, tick)
	})

	t.Run("ratio closest to max tick", func(t *testing.T) {
		tick, err := GetTickAtSqrtRatio(new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, MaxTick-1, tick)
	})

	ratios := []struct {
		name  string
		ratio *big.Int
	}{
		{"min", MinSqrtRatio},
		{"1e12:1", encodePriceSqrt(new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil), big.NewInt(1))},
		{"1e6:1", encodePriceSqrt(new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil), big.NewInt(1))},
		{"1:64", encodePriceSqrt(big.NewInt(1), big.NewInt(64))},
		{"1:8", encodePriceSqrt(big.NewInt(1), big.NewInt(8))},
		{"1:2", encodePriceSqrt(big.NewInt(1), big.NewInt(2))},
		{"1:1", encodePriceSqrt(big.NewInt(1), big.NewInt(1))},
		{"2:1", encodePriceSqrt(big.NewInt(2), big.NewInt(1))},
		{"8:1", encodePriceSqrt(big.NewInt(8), big.NewInt(1))},
		{"64:1", encodePriceSqrt(big.NewInt(64), big.NewInt(1))},
		{"1:1e6", encodePriceSqrt(big.NewInt(1), new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil))},
		{"1:1e12", encodePriceSqrt(big.NewInt(1), new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil))},
		{"max-1", new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))},
	}

	for _, tc := range ratios {
		t.Run(tc.name, func(t *testing.T) {
			tick, err := GetTickAtSqrtRatio(tc.ratio)
			require.NoError(t, err)
			ratioOfTick := new(big.Int)
			require.NoError(t, GetSqrtRatioAtTick(ratioOfTick, tick))
			ratioOfTickPlusOne := new(big.Int)
			require.NoError(t, GetSqrtRatioAtTick(ratioOfTickPlusOne, tick+1))

			// ratioOfTick <= ratio < ratioOfTickPlusOne
			assert.True(t, tc.ratio.Cmp(ratioOfTick) >= 0)
			assert.True(t, tc.ratio.Cmp(ratioOfTickPlusOne) < 0)
		})
	}
}

// TestInvariants_InverseFunctions checks that GetTickAtSqrtRatio is an exact
// left inverse of GetSqrtRatioAtTick.
func TestInvariants_InverseFunctions(t *testing.T) {
	for i := 0; i < 1000; i++ {
		tickRange := big.NewInt(MaxTick - MinTick)
		randomOffset, _ := rand.Int(rand.Reader, tickRange)
		tick := MinTick + randomOffset.Int64()
		sqrtP := new(big.Int)
		require.NoError(t, GetSqrtRatioAtTick(sqrtP, tick))

		tickCalculated, err := GetTickAtSqrtRatio(sqrtP)
		require.NoError(t, err)
		assert.Equal(t, tick, tickCalculated, "tick %d -> sqrtP %s -> tick %d", tick, sqrtP.String(), tickCalculated)
	}
}
