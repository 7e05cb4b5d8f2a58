// Package frontier computes which clocks are due on the next tick.
//
// The frontier is the set of earliest pending ticks across all running
// clocks: every running clock whose current time equals the minimum current
// time. Only code objects bound to a frontier clock execute on a tick; the
// others wait until simulated time catches up with them.
//
// This keeps clocks with different step sizes in lockstep without a global
// barrier, and the frontier is always returned in the fixed clock.Before
// order so that due clocks are advanced deterministically.
package frontier

import (
	"math"
	"sort"

	"github.com/daviddao/delaynet/pkg/clock"
)

// Due returns the running clocks whose current time is the minimum among
// all running clocks, ordered by clock.Before. It returns nil when no clock
// has ticks left.
func Due(clocks []*clock.Clock) []*clock.Clock {
	minT, minDt, ok := earliest(clocks)
	if !ok {
		return nil
	}
	var due []*clock.Clock
	for _, c := range clocks {
		if c.Running() && clock.SameInstant(c.T(), minT, minDt) {
			due = append(due, c)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return clock.Before(due[i], due[j]) })
	return due
}

// Status is a diagnostic snapshot of the frontier.
type Status struct {
	MinT    float64  `json:"min_t"`
	Due     []string `json:"due"`
	Pending []string `json:"pending,omitempty"`
	Done    bool     `json:"done"`
}

// ComputeStatus reports the due clocks, the running clocks that are not yet
// due, and whether every clock has finished its interval.
func ComputeStatus(clocks []*clock.Clock) Status {
	due := Due(clocks)
	if len(due) == 0 {
		return Status{Done: true}
	}
	st := Status{MinT: due[0].T()}
	isDue := make(map[*clock.Clock]bool, len(due))
	for _, c := range due {
		isDue[c] = true
		st.Due = append(st.Due, c.Name())
	}
	for _, c := range clocks {
		if c.Running() && !isDue[c] {
			st.Pending = append(st.Pending, c.Name())
		}
	}
	return st
}

// earliest returns the minimum current time over running clocks and the
// smallest dt among them, which bounds the comparison tolerance.
func earliest(clocks []*clock.Clock) (minT, minDt float64, ok bool) {
	minT, minDt = math.Inf(1), math.Inf(1)
	for _, c := range clocks {
		if !c.Running() {
			continue
		}
		ok = true
		if t := c.T(); t < minT {
			minT = t
		}
		if c.Dt() < minDt {
			minDt = c.Dt()
		}
	}
	return minT, minDt, ok
}
