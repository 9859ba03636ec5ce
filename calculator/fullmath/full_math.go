package fullmath

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// Q128 is the 2^128 fixed-point scale used by the fee-growth accumulators.
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)
	// MaxUint256 is 2^256 - 1, the modulus boundary for wrapping arithmetic.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	ErrDivisionByZero = errors.New("division by zero")

	one     = big.NewInt(1)
	modulus = new(big.Int).Lsh(big.NewInt(1), 256)
)

// fullMath holds reusable big.Int objects to avoid memory allocations.
// Intermediate products here may exceed 256 bits, which is the whole reason
// this package exists: multiply first, divide after, never truncate.
type fullMath struct {
	product *big.Int
	rem     *big.Int
}

// pool manages a pool of fullMath objects for safe concurrent use.
var pool = sync.Pool{
	New: func() any {
		return &fullMath{
			product: new(big.Int),
			rem:     new(big.Int),
		}
	},
}

// MulDiv writes floor((a * b) / denominator) into dest.
func MulDiv(dest, a, b, denominator *big.Int) error {
	if denominator.Sign() == 0 {
		return ErrDivisionByZero
	}
	f := pool.Get().(*fullMath)
	defer pool.Put(f)

	f.product.Mul(a, b)
	dest.Div(f.product, denominator)
	return nil
}

// MulDivRoundingUp writes ceil((a * b) / denominator) into dest.
func MulDivRoundingUp(dest, a, b, denominator *big.Int) error {
	if denominator.Sign() == 0 {
		return ErrDivisionByZero
	}
	f := pool.Get().(*fullMath)
	defer pool.Put(f)

	f.product.Mul(a, b)
	dest.QuoRem(f.product, denominator, f.rem)
	if f.rem.Sign() > 0 {
		dest.Add(dest, one)
	}
	return nil
}

// DivRoundingUp writes ceil(a / b) into dest.
func DivRoundingUp(dest, a, b *big.Int) error {
	if b.Sign() == 0 {
		return ErrDivisionByZero
	}
	f := pool.Get().(*fullMath)
	defer pool.Put(f)

	dest.QuoRem(a, b, f.rem)
	if f.rem.Sign() > 0 {
		dest.Add(dest, one)
	}
	return nil
}

// WrappingSub writes (a - b) mod 2^256 into dest. Fee-growth accumulators
// tolerate wraparound; differences taken here stay correct across it.
func WrappingSub(dest, a, b *big.Int) {
	dest.Sub(a, b)
	if dest.Sign() < 0 {
		dest.Add(dest, modulus)
	}
}

// WrappingAdd writes (a + b) mod 2^256 into dest.
func WrappingAdd(dest, a, b *big.Int) {
	dest.Add(a, b)
	if dest.BitLen() > 256 {
		dest.Sub(dest, modulus)
	}
}
