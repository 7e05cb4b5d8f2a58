// Package clock implements the discrete simulation clock.
//
// A clock holds a fixed step size dt and an integer step counter. Simulated
// time is never accumulated: T is always recomputed as timestep*dt, so M
// calls to Advance leave T at exactly M*dt with no floating drift.
//
// Once a delay queue has been prepared against a clock (or a run is in
// progress) the clock is frozen and dt can no longer change, because every
// delay-to-tick conversion made with the old dt would silently go stale.
//
// Note: Clock is not goroutine-safe. A simulation runs on a single goroutine
// and the network is the only writer.
package clock

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonPositiveDt is returned when a clock is given dt <= 0.
	ErrNonPositiveDt = errors.New("clock: dt must be > 0")

	// ErrClockFrozen is returned by SetDt after the clock has been frozen.
	ErrClockFrozen = errors.New("clock: dt is frozen")
)

// Clock is a discrete simulation clock. Not goroutine-safe; see package doc.
type Clock struct {
	name     string
	dt       float64
	timestep uint64
	iStart   uint64
	iEnd     uint64
	frozen   bool
}

// New returns a clock named name with step size dt, starting at timestep 0.
func New(name string, dt float64) (*Clock, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrNonPositiveDt, dt)
	}
	return &Clock{name: name, dt: dt}, nil
}

// Name returns the clock's name.
func (c *Clock) Name() string { return c.name }

// Dt returns the step size.
func (c *Clock) Dt() float64 { return c.dt }

// Timestep returns the integer step counter.
func (c *Clock) Timestep() uint64 { return c.timestep }

// T returns the current simulated time, timestep*dt.
func (c *Clock) T() float64 { return float64(c.timestep) * c.dt }

// Advance moves the clock forward by one tick.
func (c *Clock) Advance() { c.timestep++ }

// SetTimestep seeds the step counter, e.g. to continue a previous run.
func (c *Clock) SetTimestep(n uint64) { c.timestep = n }

// SetDt changes the step size. It fails on a frozen clock.
func (c *Clock) SetDt(dt float64) error {
	if c.frozen {
		return ErrClockFrozen
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: got %v", ErrNonPositiveDt, dt)
	}
	c.dt = dt
	return nil
}

// Freeze pins dt for the rest of the clock's life. Delay queues prepared
// against this clock call it so their tick conversions stay valid.
func (c *Clock) Freeze() { c.frozen = true }

// Frozen reports whether dt is pinned.
func (c *Clock) Frozen() bool { return c.frozen }

// SetInterval sets the tick window for the next run: the clock is running
// while its timestep is below CeilTicks(end, dt), so every tick whose time
// lies before end is executed.
func (c *Clock) SetInterval(start, end float64) {
	c.iStart = CeilTicks(start, c.dt)
	c.iEnd = CeilTicks(end, c.dt)
}

// Start returns the first timestep of the current interval.
func (c *Clock) Start() uint64 { return c.iStart }

// End returns the exclusive final timestep of the current interval.
func (c *Clock) End() uint64 { return c.iEnd }

// Running reports whether the clock still has ticks left in its interval.
func (c *Clock) Running() bool { return c.timestep < c.iEnd }

// String implements fmt.Stringer.
func (c *Clock) String() string {
	return fmt.Sprintf("%s(dt=%g, step=%d, t=%g)", c.name, c.dt, c.timestep, c.T())
}

// Ticks converts a non-negative time to a whole number of ticks of dt,
// rounding half away from zero. Negative times map to 0.
func Ticks(t, dt float64) uint64 {
	n := math.Round(t / dt)
	if n <= 0 {
		return 0
	}
	return uint64(n)
}

// tickEpsilon is how close t/dt must be to a whole number to count as that
// tick rather than the next one up.
const tickEpsilon = 1e-9

// CeilTicks returns the number of ticks of dt whose start time lies before
// t, i.e. ceil(t/dt). Ratios within tickEpsilon of a whole number snap to it,
// so 0.3/0.1 = 2.9999999999999996 gives 3 and 0.7/0.1 = 7.000000000000001
// gives 7. Negative times map to 0.
func CeilTicks(t, dt float64) uint64 {
	x := t / dt
	n := math.Round(x)
	if math.Abs(x-n) > tickEpsilon*math.Max(1, math.Abs(n)) {
		n = math.Ceil(x)
	}
	if n <= 0 {
		return 0
	}
	return uint64(n)
}

// SameInstant reports whether a and b denote the same simulated instant for
// clocks whose smallest step is dt. Times computed from different step sizes
// rarely compare equal bit-for-bit, so a tolerance of 1e-9*dt is used.
func SameInstant(a, b, dt float64) bool {
	return math.Abs(a-b) <= 1e-9*dt
}

// Before defines the fixed total order over clocks used to break ties when
// several clocks are due. Clock a comes first if:
//
//	a.T() < b.T() (beyond the SameInstant tolerance), or
//	the instants coincide and a.Name() < b.Name() (lexicographic)
//
// Two clocks with the same name and instant are not ordered.
func Before(a, b *Clock) bool {
	dt := math.Min(a.dt, b.dt)
	ta, tb := a.T(), b.T()
	if !SameInstant(ta, tb, dt) {
		return ta < tb
	}
	return a.name < b.name
}
