// Package sim assembles the demo network that `dn run` simulates: Poisson
// input units drive a group of leaky integrate-and-fire units through
// synapses with heterogeneous delays, optionally with a sparse recurrent
// pathway under spike-timing-dependent plasticity.
//
// Everything random (input spike times, connectivity, weights and delays)
// is drawn up front from one seeded generator, so a configuration and seed
// always produce the same network and the same spike trains.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/model"
	"github.com/daviddao/delaynet/pkg/network"
	"github.com/daviddao/delaynet/pkg/stage"
)

// Config describes the demo network.
type Config struct {
	Duration float64 // simulated seconds, used to draw input spikes
	Dt       float64
	N        int     // LIF units
	Inputs   int     // Poisson input units
	Rate     float64 // input rate in Hz
	MaxDelay float64 // input and recurrent delays are uniform in [0, MaxDelay]
	WInput   float64 // input weights are uniform in [0, WInput]
	Seed     uint64

	Plastic bool    // add the recurrent STDP pathway
	PConn   float64 // recurrent connection probability
	WRec    float64 // initial recurrent weights are uniform in [0, WRec]

	RecordV int // record the membrane potential of the first RecordV units
	VEvery  int // ...every VEvery ticks
}

// DefaultConfig returns a configuration that fires at a modest rate.
func DefaultConfig() Config {
	return Config{
		Duration: 1,
		Dt:       1e-4,
		N:        100,
		Inputs:   50,
		Rate:     20,
		MaxDelay: 5e-3,
		WInput:   1,
		Seed:     1,
		PConn:    0.1,
		WRec:     0.5,
		VEvery:   10,
	}
}

func (c Config) validate() error {
	var errs []error
	if !(c.Duration >= 0) {
		errs = append(errs, fmt.Errorf("duration %v", c.Duration))
	}
	if !(c.Dt > 0) {
		errs = append(errs, fmt.Errorf("dt %v", c.Dt))
	}
	if c.N <= 0 || c.Inputs <= 0 {
		errs = append(errs, fmt.Errorf("%d units, %d inputs", c.N, c.Inputs))
	}
	if c.Rate < 0 || c.MaxDelay < 0 || c.WInput < 0 || c.WRec < 0 {
		errs = append(errs, errors.New("rate, delays and weights must be >= 0"))
	}
	if c.PConn < 0 || c.PConn > 1 {
		errs = append(errs, fmt.Errorf("connection probability %v", c.PConn))
	}
	if c.RecordV < 0 || c.RecordV > c.N {
		errs = append(errs, fmt.Errorf("record %d of %d units", c.RecordV, c.N))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sim config: %w", err)
	}
	return nil
}

// Sim is a built network ready to run.
type Sim struct {
	Net   *network.Network
	State *model.State
	Clock *clock.Clock

	Input, Output *model.NeuronGroup
	Feed, Rec     *model.Synapses // Rec is nil unless Config.Plastic
	Monitors      []*stage.SpikeMonitor
	Generator     *stage.SpikeGenerator
}

// Build constructs the network described by cfg. opts are passed to
// network.New.
func Build(cfg Config, opts ...network.Option) (*Sim, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	clk, err := clock.New("defaultclock", cfg.Dt)
	if err != nil {
		return nil, err
	}
	st := model.NewState()
	in := model.NewNeuronGroup("input", cfg.Inputs, model.DefaultLIF())
	out := model.NewNeuronGroup("exc", cfg.N, model.DefaultLIF())
	for _, g := range []*model.NeuronGroup{in, out} {
		if err := st.AddGroup(g); err != nil {
			return nil, err
		}
	}

	idx, times := poisson(rng, cfg.Inputs, cfg.Rate, cfg.Duration)
	gen, err := stage.NewSpikeGenerator(in, clk, idx, times)
	if err != nil {
		return nil, err
	}

	feed, err := allToAll("input_exc", in, out, rng, cfg.WInput, cfg.MaxDelay)
	if err != nil {
		return nil, err
	}
	if err := st.AddSynapses(feed); err != nil {
		return nil, err
	}
	if err := feed.PrePath.Prepare(out.N, clk); err != nil {
		return nil, err
	}

	var rec *model.Synapses
	if cfg.Plastic {
		if rec, err = sparse("exc_exc", out, rng, cfg.PConn, cfg.WRec, cfg.MaxDelay); err != nil {
			return nil, err
		}
		rec.WithPost([]float64{0})
		if err := st.AddSynapses(rec); err != nil {
			return nil, err
		}
		if err := rec.PrePath.Prepare(out.N, clk); err != nil {
			return nil, err
		}
		if err := rec.PostPath.Prepare(out.N, clk); err != nil {
			return nil, err
		}
	}

	s := &Sim{
		Net:       network.New(st, opts...),
		State:     st,
		Clock:     clk,
		Input:     in,
		Output:    out,
		Feed:      feed,
		Rec:       rec,
		Generator: gen,
		Monitors:  []*stage.SpikeMonitor{stage.NewSpikeMonitor(in, clk), stage.NewSpikeMonitor(out, clk)},
	}

	log := s.Net.Logger()
	objs := []network.CodeObject{stage.NewEffect(feed, feed.PrePath, clk, stage.AddWeight)}
	if rec != nil {
		objs = append(objs,
			stage.NewEffect(rec, rec.PrePath, clk, stage.STDPPre),
			stage.NewEffect(rec, rec.PostPath, clk, stage.STDPPost))
	}
	objs = append(objs,
		gen,
		stage.NewStateUpdater(out, clk, nil),
		stage.NewThresholder(out, clk),
		stage.NewResetter(out, clk),
		stage.NewPusher(feed.PrePath, log))
	if rec != nil {
		objs = append(objs, stage.NewPusher(rec.PrePath, log), stage.NewPusher(rec.PostPath, log))
	}
	for _, m := range s.Monitors {
		objs = append(objs, m)
	}
	if cfg.RecordV > 0 {
		units := make([]int32, cfg.RecordV)
		for i := range units {
			units[i] = int32(i)
		}
		objs = append(objs, stage.NewStateMonitor(out, clk, units, cfg.VEvery))
	}
	for _, o := range objs {
		if err := s.Net.Add(clk, o); err != nil {
			return nil, err
		}
	}
	log.Debug("network built", "objects", len(objs), "input_spikes", gen.Len(), "feed_links", feed.Len(), "plastic", rec != nil)
	return s, nil
}

// Pathways returns every pathway of the network.
func (s *Sim) Pathways() []*model.Pathway {
	ps := []*model.Pathway{s.Feed.PrePath}
	if s.Rec != nil {
		ps = append(ps, s.Rec.PrePath, s.Rec.PostPath)
	}
	return ps
}

// SpikeCount returns the number of spikes recorded so far across groups.
func (s *Sim) SpikeCount() int64 {
	var n int64
	for _, m := range s.Monitors {
		n += m.Count()
	}
	return n
}

// poisson draws spike times for n units firing at rate over [0, duration).
func poisson(rng *rand.Rand, n int, rate, duration float64) ([]int32, []float64) {
	var idx []int32
	var times []float64
	if rate <= 0 {
		return idx, times
	}
	for i := 0; i < n; i++ {
		for t := rng.ExpFloat64() / rate; t < duration; t += rng.ExpFloat64() / rate {
			idx = append(idx, int32(i))
			times = append(times, t)
		}
	}
	return idx, times
}

func allToAll(name string, src, dst *model.NeuronGroup, rng *rand.Rand, wmax, dmax float64) (*model.Synapses, error) {
	n := src.N * dst.N
	pre, post := make([]int32, 0, n), make([]int32, 0, n)
	w, d := make([]float64, 0, n), make([]float64, 0, n)
	for i := 0; i < src.N; i++ {
		for j := 0; j < dst.N; j++ {
			pre, post = append(pre, int32(i)), append(post, int32(j))
			w, d = append(w, rng.Float64()*wmax), append(d, rng.Float64()*dmax)
		}
	}
	return model.NewSynapses(name, src, dst, pre, post, w, d)
}

// sparse connects g to itself with probability p, without self-connections.
func sparse(name string, g *model.NeuronGroup, rng *rand.Rand, p, wmax, dmax float64) (*model.Synapses, error) {
	var pre, post []int32
	var w, d []float64
	for i := 0; i < g.N; i++ {
		for j := 0; j < g.N; j++ {
			if i == j || rng.Float64() >= p {
				continue
			}
			pre, post = append(pre, int32(i)), append(post, int32(j))
			w, d = append(w, rng.Float64()*wmax), append(d, rng.Float64()*dmax)
		}
	}
	syn, err := model.NewSynapses(name, g, g, pre, post, w, d)
	if err != nil {
		return nil, err
	}
	syn.Plasticity.WMax = math.Max(syn.Plasticity.WMax, wmax)
	return syn, nil
}
