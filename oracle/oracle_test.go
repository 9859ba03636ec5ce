package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ring is a small harness carrying the cursor state the pool normally keeps
// in slot0.
type ring struct {
	o        *Oracle
	index    uint16
	card     uint16
	cardNext uint16
}

func newRing(t *testing.T, startTime uint32) *ring {
	t.Helper()
	o := New()
	card, cardNext, err := o.Initialize(startTime)
	require.NoError(t, err)
	return &ring{o: o, card: card, cardNext: cardNext}
}

func (r *ring) grow(t *testing.T, next uint16) {
	t.Helper()
	updated, err := r.o.Grow(r.cardNext, next)
	require.NoError(t, err)
	r.cardNext = updated
}

func (r *ring) write(t *testing.T, time uint32, tick int64) {
	t.Helper()
	index, card, err := r.o.Write(r.index, time, tick, r.card, r.cardNext)
	require.NoError(t, err)
	r.index, r.card = index, card
}

func (r *ring) observe(t *testing.T, time uint32, secondsAgo uint32, tick int64) int64 {
	t.Helper()
	c, err := r.o.ObserveSingle(time, secondsAgo, tick, r.index, r.card)
	require.NoError(t, err)
	return c
}

func TestInitialize(t *testing.T) {
	o := New()
	card, cardNext, err := o.Initialize(100)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), card)
	assert.Equal(t, uint16(1), cardNext)

	_, _, err = o.Initialize(200)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	_, _, err = New().Write(0, 1, 0, 1, 1)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestWrite(t *testing.T) {
	t.Run("same timestamp is a no-op", func(t *testing.T) {
		r := newRing(t, 100)
		r.write(t, 100, 5)
		assert.Equal(t, uint16(0), r.index)
		assert.Equal(t, uint32(100), r.o.At(0).BlockTimestamp)
		assert.Equal(t, int64(0), r.o.At(0).TickCumulative)
	})

	t.Run("single slot overwrites in place", func(t *testing.T) {
		r := newRing(t, 100)
		r.write(t, 110, 5)
		assert.Equal(t, uint16(0), r.index)
		assert.Equal(t, uint16(1), r.card)
		assert.Equal(t, int64(50), r.o.At(0).TickCumulative)
	})

	t.Run("grows only after wrapping the edge", func(t *testing.T) {
		r := newRing(t, 100)
		r.grow(t, 3)
		assert.Equal(t, 3, r.o.Cardinality())
		assert.Equal(t, uint16(1), r.card, "cardinality lags until the next wrap")

		r.write(t, 110, 5)
		assert.Equal(t, uint16(1), r.index)
		assert.Equal(t, uint16(3), r.card)

		r.write(t, 120, 7)
		assert.Equal(t, uint16(2), r.index)
		r.write(t, 130, 9)
		assert.Equal(t, uint16(0), r.index, "wrapped around")
	})
}

func TestGrow(t *testing.T) {
	r := newRing(t, 100)

	t.Run("shrink and equal are no-ops", func(t *testing.T) {
		updated, err := r.o.Grow(1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint16(1), updated)
		assert.Equal(t, 1, r.o.Cardinality())
	})

	t.Run("new slots carry the sentinel timestamp", func(t *testing.T) {
		r.grow(t, 4)
		for i := 1; i < 4; i++ {
			obs := r.o.At(i)
			assert.Equal(t, uint32(1), obs.BlockTimestamp)
			assert.False(t, obs.Initialized)
		}
	})

	t.Run("too big", func(t *testing.T) {
		_, err := r.o.Grow(4, MaxCardinality+1)
		assert.ErrorIs(t, err, ErrCardinalityTooBig)
	})

	t.Run("uninitialized oracle", func(t *testing.T) {
		_, err := New().Grow(0, 2)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestObserveSingle(t *testing.T) {
	t.Run("now extrapolates at current tick", func(t *testing.T) {
		r := newRing(t, 100)
		assert.Equal(t, int64(0), r.observe(t, 100, 0, 7))
		assert.Equal(t, int64(70), r.observe(t, 110, 0, 7))
	})

	t.Run("exact hit returns the stored cumulative", func(t *testing.T) {
		r := newRing(t, 100)
		r.grow(t, 4)
		r.write(t, 110, 5)
		r.write(t, 120, 9)

		// At t=110 the cumulative is 0 + 5*10 = 50.
		assert.Equal(t, int64(50), r.observe(t, 120, 10, 9))
	})

	t.Run("interpolates between observations", func(t *testing.T) {
		r := newRing(t, 100)
		r.grow(t, 4)
		r.write(t, 110, 4) // cumulative 40 at t=110
		r.write(t, 130, 8) // cumulative 40 + 8*20 = 200 at t=130

		// Target t=120 sits halfway: 40 + (200-40)/20*10 = 120.
		assert.Equal(t, int64(120), r.observe(t, 130, 10, 8))
	})

	t.Run("constant tick yields linear cumulative", func(t *testing.T) {
		r := newRing(t, 1000)
		r.grow(t, 8)
		tick := int64(85176)
		for i := 1; i <= 6; i++ {
			r.write(t, 1000+uint32(i)*13, tick)
		}
		now := uint32(1000 + 6*13)
		for _, ago := range []uint32{0, 5, 13, 26, 52, 78} {
			got := r.observe(t, now, ago, tick)
			elapsed := int64(now-ago) - 1000
			assert.Equal(t, tick*elapsed, got, "secondsAgo=%d", ago)
		}
	})

	t.Run("too old", func(t *testing.T) {
		r := newRing(t, 100)
		r.grow(t, 2)
		r.write(t, 200, 5)
		r.write(t, 300, 5) // overwrites slot 0; oldest is now t=200

		_, err := r.o.ObserveSingle(300, 150, 5, r.index, r.card)
		assert.ErrorIs(t, err, ErrTooOld)
	})

	t.Run("uninitialized", func(t *testing.T) {
		_, err := New().ObserveSingle(100, 0, 0, 0, 0)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestObserve(t *testing.T) {
	r := newRing(t, 100)
	r.grow(t, 4)
	r.write(t, 110, 4)
	r.write(t, 130, 8)

	out, err := r.o.Observe(130, []uint32{0, 10, 20}, 8, r.index, r.card)
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 120, 40}, out)

	_, err = r.o.Observe(130, []uint32{0, 35}, 8, r.index, r.card)
	assert.ErrorIs(t, err, ErrTooOld)
}

func TestTimestampWraparound(t *testing.T) {
	// Timestamps near the uint32 limit: writes straddle the wrap and
	// observations still resolve.
	start := uint32(0xfffffff0)
	r := newRing(t, start)
	r.grow(t, 4)
	r.write(t, start+8, 3)
	r.write(t, start+24, 5) // wraps past zero

	now := start + 24
	assert.Equal(t, int64(3*8+5*16), r.observe(t, now, 0, 5))
	assert.Equal(t, int64(3*8), r.observe(t, now, 16, 5))
}

func TestLoadAndSetAt(t *testing.T) {
	r := newRing(t, 100)
	r.grow(t, 2)
	r.write(t, 110, 5)

	saved := r.o.At(1)
	r.o.SetAt(1, Observation{BlockTimestamp: 999, TickCumulative: -1, Initialized: true})
	assert.Equal(t, uint32(999), r.o.At(1).BlockTimestamp)
	r.o.SetAt(1, saved)
	assert.Equal(t, saved, r.o.At(1))

	dump := make([]Observation, r.o.Cardinality())
	for i := range dump {
		dump[i] = r.o.At(i)
	}
	restored := New()
	restored.Load(dump)
	assert.Equal(t, r.o.Cardinality(), restored.Cardinality())
	got, err := restored.ObserveSingle(110, 0, 5, r.index, r.card)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)
}
