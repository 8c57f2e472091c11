// Package vclock implements the per-region counter maps used to order
// causally related writes. Both the replication engine and the conflict
// resolver share this arithmetic so the two never disagree about
// dominance.
package vclock

// Clock maps a region id to a monotonically increasing counter.
type Clock map[string]int64

// New returns an empty clock.
func New() Clock {
	return Clock{}
}

// Get returns the counter for a region, zero when absent.
func (c Clock) Get(region string) int64 {
	return c[region]
}

// Increment advances the counter for a region and returns the new value.
func (c Clock) Increment(region string) int64 {
	c[region]++
	return c[region]
}

// Clone returns an independent copy of the clock.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns the pointwise maximum of both clocks.
func (c Clock) Merge(other Clock) Clock {
	out := c.Clone()
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Dominates reports whether c >= other at every region over the union of
// keys. Missing entries count as zero. Equal clocks dominate each other.
func (c Clock) Dominates(other Clock) bool {
	for k, v := range other {
		if c[k] < v {
			return false
		}
	}
	return true
}

// Equal reports whether both clocks carry the same counters.
func (c Clock) Equal(other Clock) bool {
	return c.Dominates(other) && other.Dominates(c)
}

// Concurrent reports whether neither clock dominates the other. Equal
// clocks are not concurrent; neither is any pair where one side has seen
// everything the other has.
func Concurrent(a, b Clock) bool {
	return !a.Dominates(b) && !b.Dominates(a)
}
