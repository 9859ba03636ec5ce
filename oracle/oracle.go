package oracle

import "errors"

// MaxCardinality caps the ring buffer at the reference's 65535 slots.
const MaxCardinality = 65535

var (
	ErrNotInitialized     = errors.New("oracle not initialized")
	ErrAlreadyInitialized = errors.New("oracle already initialized")
	ErrTooOld             = errors.New("observation target older than oldest retained observation")
	ErrCardinalityTooBig  = errors.New("observation cardinality exceeds maximum")
)

// Observation is one ring buffer entry: the running sum of tick-seconds at a
// given timestamp. Timestamps are uint32 and wrap; all comparisons here are
// wraparound-aware.
type Observation struct {
	BlockTimestamp uint32
	TickCumulative int64
	Initialized    bool
}

// Oracle holds the growable ring of cumulative-tick observations. Cursor
// state (index, cardinality, cardinalityNext) lives in the pool's slot0 and
// is passed through the methods, mirroring the reference layout.
type Oracle struct {
	observations []Observation
}

func New() *Oracle {
	return &Oracle{}
}

// Initialize seeds slot 0 at the given time and returns cardinality and
// cardinalityNext, both 1.
func (o *Oracle) Initialize(time uint32) (uint16, uint16, error) {
	if len(o.observations) != 0 {
		return 0, 0, ErrAlreadyInitialized
	}
	o.observations = []Observation{{BlockTimestamp: time, Initialized: true}}
	return 1, 1, nil
}

// Write appends an observation for the given time and tick. Writing twice in
// the same instant is a no-op. Cardinality grows to cardinalityNext only when
// the cursor has just wrapped past the current edge.
func (o *Oracle) Write(index uint16, time uint32, tick int64, cardinality, cardinalityNext uint16) (uint16, uint16, error) {
	if len(o.observations) == 0 {
		return 0, 0, ErrNotInitialized
	}
	last := o.observations[index]
	if last.BlockTimestamp == time {
		return index, cardinality, nil
	}

	cardinalityUpdated := cardinality
	if cardinalityNext > cardinality && index == cardinality-1 {
		cardinalityUpdated = cardinalityNext
	}
	indexUpdated := (index + 1) % cardinalityUpdated
	o.observations[indexUpdated] = transform(last, time, tick)
	return indexUpdated, cardinalityUpdated, nil
}

// Grow extends the buffer's capacity target. New slots get a nonzero sentinel
// timestamp so a future first write is indistinguishable in cost from an
// overwrite; they stay uninitialized until written.
func (o *Oracle) Grow(current, next uint16) (uint16, error) {
	if len(o.observations) == 0 {
		return 0, ErrNotInitialized
	}
	if next > MaxCardinality {
		return 0, ErrCardinalityTooBig
	}
	if next <= current {
		return current, nil
	}
	for i := len(o.observations); i < int(next); i++ {
		o.observations = append(o.observations, Observation{BlockTimestamp: 1})
	}
	return next, nil
}

// Observe maps ObserveSingle over a list of lookback offsets.
func (o *Oracle) Observe(time uint32, secondsAgos []uint32, tick int64, index, cardinality uint16) ([]int64, error) {
	out := make([]int64, len(secondsAgos))
	for i, secondsAgo := range secondsAgos {
		c, err := o.ObserveSingle(time, secondsAgo, tick, index, cardinality)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// ObserveSingle returns the cumulative tick as of (time - secondsAgo).
// secondsAgo == 0 extrapolates from the newest observation to now at the
// current tick; older targets are answered from the two bracketing
// observations, interpolating linearly in cumulative-tick space.
func (o *Oracle) ObserveSingle(time uint32, secondsAgo uint32, tick int64, index, cardinality uint16) (int64, error) {
	if len(o.observations) == 0 || cardinality == 0 {
		return 0, ErrNotInitialized
	}

	if secondsAgo == 0 {
		last := o.observations[index]
		if last.BlockTimestamp != time {
			last = transform(last, time, tick)
		}
		return last.TickCumulative, nil
	}

	target := time - secondsAgo
	beforeOrAt, atOrAfter, err := o.surroundingObservations(time, target, tick, index, cardinality)
	if err != nil {
		return 0, err
	}

	switch {
	case beforeOrAt.BlockTimestamp == target:
		return beforeOrAt.TickCumulative, nil
	case atOrAfter.BlockTimestamp == target:
		return atOrAfter.TickCumulative, nil
	default:
		delta := int64(atOrAfter.BlockTimestamp - beforeOrAt.BlockTimestamp)
		targetDelta := int64(target - beforeOrAt.BlockTimestamp)
		return beforeOrAt.TickCumulative +
			(atOrAfter.TickCumulative-beforeOrAt.TickCumulative)/delta*targetDelta, nil
	}
}

// surroundingObservations finds the stored (or counterfactual) observations
// bracketing the target timestamp.
func (o *Oracle) surroundingObservations(time, target uint32, tick int64, index, cardinality uint16) (Observation, Observation, error) {
	beforeOrAt := o.observations[index]

	if lte(time, beforeOrAt.BlockTimestamp, target) {
		if beforeOrAt.BlockTimestamp == target {
			return beforeOrAt, Observation{}, nil
		}
		// Target is newer than everything stored; extrapolate at the
		// current tick.
		return beforeOrAt, transform(beforeOrAt, target, tick), nil
	}

	// Oldest retained observation: one past the cursor, or slot 0 if the ring
	// has not wrapped yet.
	beforeOrAt = o.observations[(index+1)%cardinality]
	if !beforeOrAt.Initialized {
		beforeOrAt = o.observations[0]
	}
	if !lte(time, beforeOrAt.BlockTimestamp, target) {
		return Observation{}, Observation{}, ErrTooOld
	}

	return o.binarySearch(time, target, index, cardinality)
}

// binarySearch walks the circular buffer for the pair of initialized
// observations straddling the target. The target is known to lie within the
// retained window.
func (o *Oracle) binarySearch(time, target uint32, index, cardinality uint16) (Observation, Observation, error) {
	l := (uint32(index) + 1) % uint32(cardinality) // oldest
	r := l + uint32(cardinality) - 1               // newest

	var beforeOrAt, atOrAfter Observation
	for {
		i := (l + r) / 2
		beforeOrAt = o.observations[i%uint32(cardinality)]
		if !beforeOrAt.Initialized {
			// Hit an unpopulated slot; keep searching higher.
			l = i + 1
			continue
		}
		atOrAfter = o.observations[(i+1)%uint32(cardinality)]

		if lte(time, beforeOrAt.BlockTimestamp, target) {
			if lte(time, target, atOrAfter.BlockTimestamp) {
				return beforeOrAt, atOrAfter, nil
			}
			l = i + 1
		} else {
			r = i - 1
		}
	}
}

// Cardinality returns the number of allocated slots.
func (o *Oracle) Cardinality() int { return len(o.observations) }

// At returns the observation in a slot; storage adapters use it to dump the
// ring.
func (o *Oracle) At(i int) Observation { return o.observations[i] }

// SetAt overwrites one slot. The pool uses it to unwind a speculative write
// when an operation fails after its accounting committed.
func (o *Oracle) SetAt(i int, obs Observation) { o.observations[i] = obs }

// Load replaces the ring contents from a snapshot.
func (o *Oracle) Load(obs []Observation) {
	o.observations = append([]Observation(nil), obs...)
}

// transform projects an observation forward to a new timestamp at a constant
// tick.
func transform(last Observation, time uint32, tick int64) Observation {
	delta := time - last.BlockTimestamp
	return Observation{
		BlockTimestamp: time,
		TickCumulative: last.TickCumulative + tick*int64(delta),
		Initialized:    true,
	}
}

// lte compares two uint32 timestamps in the presence of wraparound by
// normalizing both against the current time before comparing.
func lte(time, a, b uint32) bool {
	if a <= time && b <= time {
		return a <= b
	}
	// Values above the current time are from before the wrap; values at or
	// below it are after and get pushed up a full period.
	aAdj := uint64(a)
	if a <= time {
		aAdj += 1 << 32
	}
	bAdj := uint64(b)
	if b <= time {
		bAdj += 1 << 32
	}
	return aAdj <= bAdj
}
