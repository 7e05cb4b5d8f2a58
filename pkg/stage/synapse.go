package stage

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/model"
)

// Pusher feeds a pathway's queue from its driving group's spikespace.
// Each tick it advances the queue past the bucket the effect stage just
// consumed and then pushes this tick's spikes.
type Pusher struct {
	name   string
	path   *model.Pathway
	logger *slog.Logger
}

// NewPusher returns the push stage of path. A nil logger means slog.Default.
func NewPusher(path *model.Pathway, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{name: path.Name + "_pushspikes", path: path, logger: logger}
}

func (s *Pusher) Name() string { return s.name }

func (s *Pusher) Execute(*model.State) error {
	q := s.path.Queue
	q.Advance()
	sp := s.path.Group.Spikes
	grows := q.Grows()
	if err := q.Push(sp, sp.Count()); err != nil {
		return fmt.Errorf("push %s: %w", s.path.Name, err)
	}
	if q.Grows() != grows {
		s.logger.Debug("delay queue grew", "pathway", s.path.Name, "buffer_length", q.BufferLength())
	}
	return nil
}

// EffectFunc applies one due link of syn at time t.
type EffectFunc func(syn *model.Synapses, link int32, t float64)

// Effect applies every link due on the current tick of a pathway.
type Effect struct {
	name  string
	syn   *model.Synapses
	path  *model.Pathway
	clk   *clock.Clock
	apply EffectFunc
}

// NewEffect returns the effect stage of path, one of syn's pathways.
func NewEffect(syn *model.Synapses, path *model.Pathway, clk *clock.Clock, fn EffectFunc) *Effect {
	return &Effect{name: path.Name + "_codeobject", syn: syn, path: path, clk: clk, apply: fn}
}

func (s *Effect) Name() string { return s.name }

func (s *Effect) Execute(*model.State) error {
	t := s.clk.T()
	for _, link := range s.path.Queue.Peek() {
		s.apply(s.syn, link, t)
	}
	return nil
}

// AddWeight increments the target's conductance by the link weight.
func AddWeight(syn *model.Synapses, link int32, _ float64) {
	syn.Target.Ge[syn.Post[link]] += syn.W[link]
}

// decayTraces brings both traces of link forward to t.
func decayTraces(syn *model.Synapses, link int32, t float64) {
	p := syn.Plasticity
	elapsed := t - syn.LastUpdate[link]
	if elapsed > 0 {
		if p.TauPre > 0 {
			syn.PreTrace[link] *= math.Exp(-elapsed / p.TauPre)
		}
		if p.TauPost > 0 {
			syn.PostTrace[link] *= math.Exp(-elapsed / p.TauPost)
		}
	}
	syn.LastUpdate[link] = t
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// STDPPre is the presynaptic plasticity rule: it transmits the weight,
// sets the pre trace and depresses the weight by the post trace.
func STDPPre(syn *model.Synapses, link int32, t float64) {
	decayTraces(syn, link, t)
	p := syn.Plasticity
	syn.Target.Ge[syn.Post[link]] += syn.W[link]
	syn.PreTrace[link] = 1
	syn.W[link] = clip(syn.W[link]-p.NuPre*syn.PostTrace[link]-p.PreDecrease, 0, p.WMax)
}

// STDPPost is the postsynaptic rule: it sets the post trace and
// potentiates the weight by the pre trace.
func STDPPost(syn *model.Synapses, link int32, t float64) {
	decayTraces(syn, link, t)
	p := syn.Plasticity
	syn.PostTrace[link] = 1
	syn.W[link] = clip(syn.W[link]+p.NuPost*syn.PreTrace[link], 0, p.WMax)
}
