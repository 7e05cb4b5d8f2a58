package delayqueue

import "math"

// RoundingPolicy selects how a real delay/dt ratio becomes whole ticks.
type RoundingPolicy int

const (
	// RoundHalfAwayFromZero rounds x.5 up for non-negative delays (math.Round).
	RoundHalfAwayFromZero RoundingPolicy = iota

	// RoundHalfEven rounds x.5 to the nearest even tick (math.RoundToEven).
	RoundHalfEven
)

// Rounding is the policy every queue uses unless WithRounding overrides it.
// Ratios such as 0.3/0.1 = 2.9999999999999996 land on the intended tick
// under either policy; they only differ on exact halves.
const Rounding = RoundHalfAwayFromZero

// Apply rounds x according to p.
func (p RoundingPolicy) Apply(x float64) float64 {
	if p == RoundHalfEven {
		return math.RoundToEven(x)
	}
	return math.Round(x)
}

// String implements fmt.Stringer.
func (p RoundingPolicy) String() string {
	switch p {
	case RoundHalfAwayFromZero:
		return "half-away-from-zero"
	case RoundHalfEven:
		return "half-even"
	default:
		return "unknown"
	}
}
