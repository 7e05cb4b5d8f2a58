// Package stage provides the code objects a network runs each tick.
//
// Every stage holds the clock it is registered on and reads the current
// time from it; the shared buffers it touches live in *model.State. The
// usual invocation order within one tick is
//
//	effect (peek) -> update -> threshold -> reset -> push (advance+push) -> monitors
//
// which is what the network gets when stages are registered in that order.
package stage

import (
	"fmt"
	"math"
	"sort"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/model"
)

// UpdateFunc integrates one group over a single step of length dt that
// starts at time t.
type UpdateFunc func(g *model.NeuronGroup, t, dt float64)

// LIFUpdate is the default UpdateFunc: forward Euler on
//
//	dv/dt = ((v_rest - v) + ge*(e_ex - v)) / tau_v   (unless refractory)
//	dge/dt = -ge / tau_ge
//
// with ge decayed exactly over the step.
func LIFUpdate(g *model.NeuronGroup, t, dt float64) {
	p := g.Params
	decay := 1.0
	if p.TauGe > 0 {
		decay = math.Exp(-dt / p.TauGe)
	}
	for i := 0; i < g.N; i++ {
		if !refractory(g, i, t) && p.TauV > 0 {
			v := g.V[i]
			g.V[i] = v + dt*((p.VRest-v)+g.Ge[i]*(p.EEx-v))/p.TauV
		}
		g.Ge[i] *= decay
	}
}

func refractory(g *model.NeuronGroup, i int, t float64) bool {
	return t-g.LastSpike[i] < g.Params.Refractory
}

// StateUpdater advances a group's state variables.
type StateUpdater struct {
	name   string
	group  *model.NeuronGroup
	clk    *clock.Clock
	update UpdateFunc
}

// NewStateUpdater returns an updater for g. A nil fn selects LIFUpdate.
func NewStateUpdater(g *model.NeuronGroup, clk *clock.Clock, fn UpdateFunc) *StateUpdater {
	if fn == nil {
		fn = LIFUpdate
	}
	return &StateUpdater{name: g.Name + "_stateupdater", group: g, clk: clk, update: fn}
}

func (s *StateUpdater) Name() string { return s.name }

func (s *StateUpdater) Execute(*model.State) error {
	s.update(s.group, s.clk.T(), s.clk.Dt())
	return nil
}

// Thresholder writes every unit above threshold, and not refractory, into
// the group's spikespace in ascending order.
type Thresholder struct {
	name  string
	group *model.NeuronGroup
	clk   *clock.Clock
}

func NewThresholder(g *model.NeuronGroup, clk *clock.Clock) *Thresholder {
	return &Thresholder{name: g.Name + "_thresholder", group: g, clk: clk}
}

func (s *Thresholder) Name() string { return s.name }

func (s *Thresholder) Execute(*model.State) error {
	g, t := s.group, s.clk.T()
	g.Spikes.Reset()
	for i := 0; i < g.N; i++ {
		if g.V[i] > g.Params.VThresh && !refractory(g, i, t) {
			g.Spikes.Add(int32(i))
		}
	}
	return nil
}

// Resetter applies the reset to the units fired this tick.
type Resetter struct {
	name  string
	group *model.NeuronGroup
	clk   *clock.Clock
}

func NewResetter(g *model.NeuronGroup, clk *clock.Clock) *Resetter {
	return &Resetter{name: g.Name + "_resetter", group: g, clk: clk}
}

func (s *Resetter) Name() string { return s.name }

func (s *Resetter) Execute(*model.State) error {
	g, t := s.group, s.clk.T()
	for _, i := range g.Spikes.Fired() {
		g.V[i] = g.Params.VReset
		g.LastSpike[i] = t
	}
	return nil
}

// SpikeGenerator emits a fixed list of (index, time) spikes. Times are
// quantized to ticks of the clock's dt at construction, and a unit listed
// twice in the same tick fires once.
type SpikeGenerator struct {
	name   string
	group  *model.NeuronGroup
	clk    *clock.Clock
	byTick map[uint64][]int32
	total  int
}

// NewSpikeGenerator schedules indices[k] to fire at times[k].
func NewSpikeGenerator(g *model.NeuronGroup, clk *clock.Clock, indices []int32, times []float64) (*SpikeGenerator, error) {
	if len(indices) != len(times) {
		return nil, fmt.Errorf("spike generator %s: %d indices, %d times", g.Name, len(indices), len(times))
	}
	byTick := make(map[uint64][]int32)
	for k, i := range indices {
		if i < 0 || int(i) >= g.N {
			return nil, fmt.Errorf("spike generator %s: index %d, want [0,%d)", g.Name, i, g.N)
		}
		if times[k] < 0 || math.IsNaN(times[k]) {
			return nil, fmt.Errorf("spike generator %s: time %v", g.Name, times[k])
		}
		n := clock.Ticks(times[k], clk.Dt())
		byTick[n] = append(byTick[n], i)
	}
	total := 0
	for n, units := range byTick {
		sort.Slice(units, func(a, b int) bool { return units[a] < units[b] })
		out := units[:0]
		for j, u := range units {
			if j == 0 || u != units[j-1] {
				out = append(out, u)
			}
		}
		byTick[n] = out
		total += len(out)
	}
	return &SpikeGenerator{name: g.Name + "_spikegenerator", group: g, clk: clk, byTick: byTick, total: total}, nil
}

func (s *SpikeGenerator) Name() string { return s.name }

// Len returns the number of distinct scheduled spikes.
func (s *SpikeGenerator) Len() int { return s.total }

func (s *SpikeGenerator) Execute(*model.State) error {
	s.group.Spikes.Reset()
	for _, i := range s.byTick[s.clk.Timestep()] {
		s.group.Spikes.Add(i)
	}
	return nil
}
