package churn

import "time"

// MaxBlockTimes is how many block arrival instants are retained
const MaxBlockTimes = 5

// minAverageSamples is the smallest window the average is computed from
const minAverageSamples = MaxBlockTimes

// BlockTimes is a bounded, insertion-ordered window of block arrival
// instants, oldest first. Not safe for concurrent use.
type BlockTimes struct {
	times []time.Time
}

// NewBlockTimes returns an empty window
func NewBlockTimes() *BlockTimes {
	return &BlockTimes{times: make([]time.Time, 0, MaxBlockTimes)}
}

// Push appends t, evicting the oldest entry once the window is full.
func (b *BlockTimes) Push(t time.Time) {
	if len(b.times) == MaxBlockTimes {
		copy(b.times, b.times[1:])
		b.times = b.times[:MaxBlockTimes-1]
	}
	b.times = append(b.times, t)
}

// Len returns the number of retained instants
func (b *BlockTimes) Len() int {
	return len(b.times)
}

// Clear drops every instant
func (b *BlockTimes) Clear() {
	b.times = b.times[:0]
}

// Times returns a copy of the window, oldest first.
func (b *BlockTimes) Times() []time.Time {
	out := make([]time.Time, len(b.times))
	copy(out, b.times)
	return out
}

// Average returns (newest - oldest) / (count - 1) in seconds. ok is false
// until the window holds at least five instants.
func (b *BlockTimes) Average() (seconds float64, ok bool) {
	n := len(b.times)
	if n < minAverageSamples {
		return 0, false
	}
	span := b.times[n-1].Sub(b.times[0])
	return span.Seconds() / float64(n-1), true
}
