package tickstore

import (
	"github.com/holiman/uint256"

	"github.com/defistate/clamm-engine-go/calculator/bitmath"
)

// bitmap packs one bit per usable tick (tick index divided by spacing) into
// 256-bit words keyed by word position. Only words containing set bits are
// stored; tick space is sparse.
type bitmap map[int64]*uint256.Int

var bitmapOne = uint256.NewInt(1)

// compress maps a tick to its bitmap index, rounding toward negative
// infinity so negative ticks land in the right word.
func compress(tick, spacing int64) int64 {
	c := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		c--
	}
	return c
}

func wordAndBit(compressed int64) (int64, uint8) {
	word := compressed >> 8
	bit := uint8(compressed & 255)
	return word, bit
}

// flip toggles the bit for the tick. The tick must be a multiple of spacing.
func (b bitmap) flip(tick, spacing int64) {
	compressed := tick / spacing
	word, bit := wordAndBit(compressed)
	w := b[word]
	if w == nil {
		w = new(uint256.Int)
		b[word] = w
	}
	mask := new(uint256.Int).Lsh(bitmapOne, uint(bit))
	w.Xor(w, mask)
	if w.IsZero() {
		delete(b, word)
	}
}

// isSet reports whether the tick's bit is set.
func (b bitmap) isSet(tick, spacing int64) bool {
	word, bit := wordAndBit(compress(tick, spacing))
	w := b[word]
	if w == nil {
		return false
	}
	probe := new(uint256.Int).Lsh(bitmapOne, uint(bit))
	return !new(uint256.Int).And(w, probe).IsZero()
}

// nextInitialized locates the nearest initialized tick within the word that
// contains the starting tick. Searching down (lte) includes the starting tick
// itself; searching up starts one bitmap index above it. A miss returns the
// last tick covered by the word in the search direction, uninitialized.
func (b bitmap) nextInitialized(tick, spacing int64, lte bool) (int64, bool) {
	compressed := compress(tick, spacing)

	if lte {
		word, bit := wordAndBit(compressed)
		// All bits at or below bit.
		mask := new(uint256.Int).Lsh(bitmapOne, uint(bit)+1)
		mask.Sub(mask, bitmapOne)
		masked := new(uint256.Int)
		if w := b[word]; w != nil {
			masked.And(w, mask)
		}
		if !masked.IsZero() {
			msb, _ := bitmath.MostSignificantBit(masked)
			return (compressed - int64(bit-msb)) * spacing, true
		}
		return (compressed - int64(bit)) * spacing, false
	}

	start := compressed + 1
	word, bit := wordAndBit(start)
	// All bits at or above bit.
	mask := new(uint256.Int).Lsh(bitmapOne, uint(bit))
	mask.Sub(mask, bitmapOne)
	mask.Not(mask)
	masked := new(uint256.Int)
	if w := b[word]; w != nil {
		masked.And(w, mask)
	}
	if !masked.IsZero() {
		lsb, _ := bitmath.LeastSignificantBit(masked)
		return (start + int64(lsb-bit)) * spacing, true
	}
	return (start + int64(255-bit)) * spacing, false
}
