// Package model defines the shared simulation state and the persisted
// shapes of a run.
//
// A simulation is a set of neuron groups joined by synapses. Every code
// object receives the same *State and hands buffers to the next one purely
// by sequential mutation on a single goroutine:
//
//   - A group's Spikespace is written by its thresholder (or spike
//     generator) and read by the resetter, the push stages and monitors.
//   - A pathway's delay queue is written by its push stage and read by its
//     effect stage on a later tick.
//
// Units are SI throughout: seconds for time, volts for potentials.
package model

import (
	"fmt"
	"time"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/delayqueue"
)

// Spikespace holds one tick's fired units for a group of N units. It has
// length N+1: the first Count() entries are the fired indices in ascending
// order and the final entry holds the count.
type Spikespace []int32

// NewSpikespace returns an empty spikespace for n units.
func NewSpikespace(n int) Spikespace { return make(Spikespace, n+1) }

// Count returns the number of units that fired this tick.
func (s Spikespace) Count() int { return int(s[len(s)-1]) }

// Fired returns the fired indices. The slice aliases the spikespace.
func (s Spikespace) Fired() []int32 { return s[:s.Count()] }

// Reset marks no unit as fired.
func (s Spikespace) Reset() { s[len(s)-1] = 0 }

// Add appends unit i to the fired set. Callers add in ascending order.
func (s Spikespace) Add(i int32) {
	n := s[len(s)-1]
	s[n] = i
	s[len(s)-1] = n + 1
}

// LIFParams parameterizes the built-in leaky integrate-and-fire update.
type LIFParams struct {
	VRest      float64 `json:"v_rest"`
	VReset     float64 `json:"v_reset"`
	VThresh    float64 `json:"v_thresh"`
	TauV       float64 `json:"tau_v"`
	TauGe      float64 `json:"tau_ge"`
	EEx        float64 `json:"e_ex"`
	Refractory float64 `json:"refractory"`
}

// DefaultLIF returns excitatory-unit defaults.
func DefaultLIF() LIFParams {
	return LIFParams{
		VRest:      -65e-3,
		VReset:     -65e-3,
		VThresh:    -52e-3,
		TauV:       100e-3,
		TauGe:      1e-3,
		EEx:        0,
		Refractory: 5e-3,
	}
}

// NeuronGroup is a population of N units sharing one update rule.
type NeuronGroup struct {
	Name      string
	N         int
	V         []float64
	Ge        []float64
	LastSpike []float64
	Spikes    Spikespace
	Params    LIFParams
}

// NewNeuronGroup returns a group of n units at rest that have never fired.
func NewNeuronGroup(name string, n int, p LIFParams) *NeuronGroup {
	g := &NeuronGroup{
		Name:      name,
		N:         n,
		V:         make([]float64, n),
		Ge:        make([]float64, n),
		LastSpike: make([]float64, n),
		Spikes:    NewSpikespace(n),
		Params:    p,
	}
	for i := range g.V {
		g.V[i] = p.VRest
		g.LastSpike[i] = -1e9
	}
	return g
}

// Plasticity parameterizes trace-based STDP on a synapse set.
type Plasticity struct {
	TauPre      float64 `json:"tau_pre"`
	TauPost     float64 `json:"tau_post"`
	NuPre       float64 `json:"nu_pre"`
	NuPost      float64 `json:"nu_post"`
	WMax        float64 `json:"w_max"`
	PreDecrease float64 `json:"pre_decrease"`
}

// DefaultPlasticity returns the excitatory-excitatory STDP defaults.
func DefaultPlasticity() Plasticity {
	return Plasticity{
		TauPre:      20e-3,
		TauPost:     20e-3,
		NuPre:       0.0001,
		NuPost:      0.06,
		WMax:        1.0,
		PreDecrease: 0.0005,
	}
}

// Pathway is one direction of event transmission through a synapse set:
// the pre pathway is driven by source spikes, the post pathway by target
// spikes. Sources[i] is the driving unit of link i.
type Pathway struct {
	Name    string
	Group   *NeuronGroup
	Sources []int32
	Delays  []float64
	Queue   *delayqueue.Queue
}

// Prepare quantizes the pathway's delays against clk's dt and freezes clk,
// since the queue's tick delays are only valid for that dt.
func (p *Pathway) Prepare(nTargets int, clk *clock.Clock) error {
	if err := p.Queue.Prepare(p.Group.N, nTargets, p.Delays, p.Sources, clk.Dt()); err != nil {
		return fmt.Errorf("pathway %s: %w", p.Name, err)
	}
	clk.Freeze()
	return nil
}

// Synapses connects a source group to a target group. Link i runs from
// Source unit Pre[i] to Target unit Post[i].
type Synapses struct {
	Name       string
	Source     *NeuronGroup
	Target     *NeuronGroup
	Pre        []int32
	Post       []int32
	W          []float64
	LastUpdate []float64
	PreTrace   []float64
	PostTrace  []float64
	Plasticity Plasticity

	PrePath  *Pathway
	PostPath *Pathway
}

// NewSynapses links source to target with one link per (pre[i], post[i])
// pair. The pre pathway always exists; call WithPost for a post pathway.
func NewSynapses(name string, source, target *NeuronGroup, pre, post []int32, w, delays []float64) (*Synapses, error) {
	if len(pre) != len(post) || len(w) != len(pre) {
		return nil, fmt.Errorf("synapses %s: %d pre, %d post, %d weights", name, len(pre), len(post), len(w))
	}
	for i := range pre {
		if int(post[i]) < 0 || int(post[i]) >= target.N {
			return nil, fmt.Errorf("synapses %s: link %d targets %d, want [0,%d)", name, i, post[i], target.N)
		}
	}
	n := len(pre)
	s := &Synapses{
		Name:       name,
		Source:     source,
		Target:     target,
		Pre:        pre,
		Post:       post,
		W:          w,
		LastUpdate: make([]float64, n),
		PreTrace:   make([]float64, n),
		PostTrace:  make([]float64, n),
		Plasticity: DefaultPlasticity(),
	}
	s.PrePath = &Pathway{
		Name:    name + "_pre",
		Group:   source,
		Sources: pre,
		Delays:  delays,
		Queue:   delayqueue.New(),
	}
	return s, nil
}

// WithPost adds the post pathway, driven by target spikes.
func (s *Synapses) WithPost(delays []float64) *Synapses {
	s.PostPath = &Pathway{
		Name:    s.Name + "_post",
		Group:   s.Target,
		Sources: s.Post,
		Delays:  delays,
		Queue:   delayqueue.New(),
	}
	return s
}

// Len returns the number of links.
func (s *Synapses) Len() int { return len(s.Pre) }

// SpikeRecord is one recorded spike.
type SpikeRecord struct {
	Group    string  `json:"group"`
	Index    int32   `json:"i"`
	Timestep uint64  `json:"timestep"`
	T        float64 `json:"t"`
}

// TraceRecord is one recorded membrane potential sample.
type TraceRecord struct {
	Group    string  `json:"group"`
	Index    int32   `json:"i"`
	Timestep uint64  `json:"timestep"`
	V        float64 `json:"v"`
}

// State is the simulation state shared by every code object.
type State struct {
	groups   map[string]*NeuronGroup
	synapses map[string]*Synapses
	order    []string
	synOrder []string

	Spikes []SpikeRecord
	Traces []TraceRecord
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		groups:   make(map[string]*NeuronGroup),
		synapses: make(map[string]*Synapses),
	}
}

// AddGroup registers g under its name.
func (s *State) AddGroup(g *NeuronGroup) error {
	if _, ok := s.groups[g.Name]; ok {
		return fmt.Errorf("group %q already exists", g.Name)
	}
	s.groups[g.Name] = g
	s.order = append(s.order, g.Name)
	return nil
}

// AddSynapses registers syn under its name.
func (s *State) AddSynapses(syn *Synapses) error {
	if _, ok := s.synapses[syn.Name]; ok {
		return fmt.Errorf("synapses %q already exist", syn.Name)
	}
	s.synapses[syn.Name] = syn
	s.synOrder = append(s.synOrder, syn.Name)
	return nil
}

// Group returns the named group, or nil.
func (s *State) Group(name string) *NeuronGroup { return s.groups[name] }

// Synapse returns the named synapse set, or nil.
func (s *State) Synapse(name string) *Synapses { return s.synapses[name] }

// Groups returns the groups in registration order.
func (s *State) Groups() []*NeuronGroup {
	out := make([]*NeuronGroup, len(s.order))
	for i, n := range s.order {
		out[i] = s.groups[n]
	}
	return out
}

// AllSynapses returns the synapse sets in registration order.
func (s *State) AllSynapses() []*Synapses {
	out := make([]*Synapses, len(s.synOrder))
	for i, n := range s.synOrder {
		out[i] = s.synapses[n]
	}
	return out
}

// RunStatus is the outcome of a run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunOK          RunStatus = "ok"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Run is the persisted metadata of one simulation run.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Duration  float64   `json:"duration"`
	Dt        float64   `json:"dt"`
	Seed      int64     `json:"seed"`
	WallTime  float64   `json:"wall_time"`
	Completed float64   `json:"completed"`
	Ticks     int64     `json:"ticks"`
	Spikes    int64     `json:"spikes"`
	Digest    string    `json:"digest,omitempty"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// ProfileEntry is the cumulative cost of one registered code object.
type ProfileEntry struct {
	RunID      string  `json:"run_id,omitempty"`
	Order      int     `json:"order"`
	CodeObject string  `json:"codeobject"`
	Clock      string  `json:"clock"`
	Calls      int64   `json:"calls"`
	Seconds    float64 `json:"seconds"`
}
