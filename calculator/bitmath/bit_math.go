package bitmath

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

// ErrInputIsZero is returned when a scan is attempted on an empty word.
var ErrInputIsZero = errors.New("input must be greater than zero")

// MostSignificantBit returns the index of the highest set bit of x, with bit 0
// the least significant. Satisfies x >= 2^msb(x) and x < 2^(msb(x)+1).
func MostSignificantBit(x *uint256.Int) (uint8, error) {
	if x.IsZero() {
		return 0, ErrInputIsZero
	}
	return uint8(x.BitLen() - 1), nil
}

// LeastSignificantBit returns the index of the lowest set bit of x.
// Satisfies x & 2^lsb(x) != 0.
func LeastSignificantBit(x *uint256.Int) (uint8, error) {
	if x.IsZero() {
		return 0, ErrInputIsZero
	}
	for i, word := range x {
		if word != 0 {
			return uint8(i*64 + bits.TrailingZeros64(word)), nil
		}
	}
	return 0, ErrInputIsZero
}
