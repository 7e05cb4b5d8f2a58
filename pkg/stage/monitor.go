package stage

import (
	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/model"
)

// SpikeMonitor records every spike of a group into State.Spikes.
type SpikeMonitor struct {
	name  string
	group *model.NeuronGroup
	clk   *clock.Clock
	count int64
}

func NewSpikeMonitor(g *model.NeuronGroup, clk *clock.Clock) *SpikeMonitor {
	return &SpikeMonitor{name: g.Name + "_spikemonitor", group: g, clk: clk}
}

func (m *SpikeMonitor) Name() string { return m.name }

// Count returns the number of spikes recorded so far.
func (m *SpikeMonitor) Count() int64 { return m.count }

func (m *SpikeMonitor) Execute(st *model.State) error {
	n, t := m.clk.Timestep(), m.clk.T()
	for _, i := range m.group.Spikes.Fired() {
		st.Spikes = append(st.Spikes, model.SpikeRecord{Group: m.group.Name, Index: i, Timestep: n, T: t})
	}
	m.count += int64(m.group.Spikes.Count())
	return nil
}

// StateMonitor samples the membrane potential of selected units every
// Every-th tick.
type StateMonitor struct {
	name    string
	group   *model.NeuronGroup
	clk     *clock.Clock
	indices []int32
	every   uint64
}

// NewStateMonitor records units indices of g. every < 1 samples each tick.
func NewStateMonitor(g *model.NeuronGroup, clk *clock.Clock, indices []int32, every int) *StateMonitor {
	if every < 1 {
		every = 1
	}
	return &StateMonitor{name: g.Name + "_statemonitor", group: g, clk: clk, indices: indices, every: uint64(every)}
}

func (m *StateMonitor) Name() string { return m.name }

func (m *StateMonitor) Execute(st *model.State) error {
	n := m.clk.Timestep()
	if n%m.every != 0 {
		return nil
	}
	for _, i := range m.indices {
		st.Traces = append(st.Traces, model.TraceRecord{Group: m.group.Name, Index: i, Timestep: n, V: m.group.V[i]})
	}
	return nil
}
