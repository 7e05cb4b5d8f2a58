package stage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/model"
	"github.com/daviddao/delaynet/pkg/network"
)

func newClock(t *testing.T, dt float64) *clock.Clock {
	t.Helper()
	c, err := clock.New("defaultclock", dt)
	if err != nil {
		t.Fatalf("clock.New: %v", err)
	}
	return c
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestLIFUpdate_RestIsFixedPoint(t *testing.T) {
	g := model.NewNeuronGroup("g", 2, model.DefaultLIF())
	LIFUpdate(g, 0, 1e-4)
	for i, v := range g.V {
		if v != g.Params.VRest {
			t.Fatalf("V[%d]: got %v, want %v", i, v, g.Params.VRest)
		}
	}
}

func TestLIFUpdate_ConductanceDepolarizes(t *testing.T) {
	p := model.DefaultLIF()
	g := model.NewNeuronGroup("g", 1, p)
	g.Ge[0] = 1
	dt := 1e-4
	LIFUpdate(g, 0, dt)
	want := p.VRest + dt*(1*(p.EEx-p.VRest))/p.TauV
	if !approx(g.V[0], want) {
		t.Fatalf("V: got %v, want %v", g.V[0], want)
	}
	if !approx(g.Ge[0], math.Exp(-dt/p.TauGe)) {
		t.Fatalf("Ge: got %v, want %v", g.Ge[0], math.Exp(-dt/p.TauGe))
	}
}

func TestLIFUpdate_RefractoryHoldsV(t *testing.T) {
	p := model.DefaultLIF()
	g := model.NewNeuronGroup("g", 1, p)
	g.Ge[0] = 1
	g.LastSpike[0] = 0
	LIFUpdate(g, 1e-3, 1e-4)
	if g.V[0] != p.VRest {
		t.Fatalf("refractory V changed: got %v", g.V[0])
	}
	if g.Ge[0] >= 1 {
		t.Fatal("Ge should still decay while refractory")
	}
}

func TestThresholdAndReset(t *testing.T) {
	p := model.DefaultLIF()
	c := newClock(t, 1e-4)
	c.SetTimestep(100)
	g := model.NewNeuronGroup("g", 4, p)
	g.V[1] = p.VThresh + 1e-3
	g.V[3] = p.VThresh + 1e-3
	g.LastSpike[3] = c.T() - p.Refractory/2

	if err := NewThresholder(g, c).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if got := g.Spikes.Fired(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("fired: got %v, want [1]", got)
	}
	if err := NewResetter(g, c).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if g.V[1] != p.VReset || g.LastSpike[1] != c.T() {
		t.Fatalf("reset: got V=%v last=%v", g.V[1], g.LastSpike[1])
	}
	if g.V[3] == p.VReset {
		t.Fatal("refractory unit should not be reset")
	}
}

func TestThresholder_ClearsPreviousTick(t *testing.T) {
	p := model.DefaultLIF()
	c := newClock(t, 1e-4)
	g := model.NewNeuronGroup("g", 2, p)
	g.Spikes.Add(0)
	if err := NewThresholder(g, c).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if g.Spikes.Count() != 0 {
		t.Fatalf("count: got %d, want 0", g.Spikes.Count())
	}
}

func TestSpikeGenerator(t *testing.T) {
	c := newClock(t, 0.1)
	g := model.NewNeuronGroup("in", 3, model.DefaultLIF())
	gen, err := NewSpikeGenerator(g, c,
		[]int32{2, 0, 2, 1},
		[]float64{0.1, 0.1, 0.1, 0.3})
	if err != nil {
		t.Fatalf("NewSpikeGenerator: %v", err)
	}
	if gen.Len() != 3 {
		t.Fatalf("len: got %d, want 3", gen.Len())
	}
	want := map[uint64][]int32{0: nil, 1: {0, 2}, 2: nil, 3: {1}}
	for step := uint64(0); step < 4; step++ {
		c.SetTimestep(step)
		if err := gen.Execute(nil); err != nil {
			t.Fatal(err)
		}
		got := g.Spikes.Fired()
		if len(got) != len(want[step]) {
			t.Fatalf("step %d: got %v, want %v", step, got, want[step])
		}
		for i := range got {
			if got[i] != want[step][i] {
				t.Fatalf("step %d: got %v, want %v", step, got, want[step])
			}
		}
	}
}

func TestSpikeGenerator_Invalid(t *testing.T) {
	c := newClock(t, 0.1)
	g := model.NewNeuronGroup("in", 2, model.DefaultLIF())
	cases := []struct {
		name    string
		indices []int32
		times   []float64
	}{
		{"length mismatch", []int32{0}, nil},
		{"index out of range", []int32{2}, []float64{0}},
		{"negative time", []int32{0}, []float64{-1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSpikeGenerator(g, c, tc.indices, tc.times); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func newSynapses(t *testing.T, pre, post []int32, w, delays []float64) (*model.NeuronGroup, *model.NeuronGroup, *model.Synapses) {
	t.Helper()
	src := model.NewNeuronGroup("in", 2, model.DefaultLIF())
	dst := model.NewNeuronGroup("out", 2, model.DefaultLIF())
	syn, err := model.NewSynapses("s", src, dst, pre, post, w, delays)
	if err != nil {
		t.Fatalf("NewSynapses: %v", err)
	}
	return src, dst, syn
}

func TestAddWeight(t *testing.T) {
	_, dst, syn := newSynapses(t, []int32{0, 1}, []int32{1, 1}, []float64{0.5, 0.25}, []float64{0})
	AddWeight(syn, 0, 0)
	AddWeight(syn, 1, 0)
	if dst.Ge[1] != 0.75 || dst.Ge[0] != 0 {
		t.Fatalf("Ge: got %v, want [0 0.75]", dst.Ge)
	}
}

func TestSTDP(t *testing.T) {
	_, dst, syn := newSynapses(t, []int32{0}, []int32{0}, []float64{0.5}, []float64{0})
	p := syn.Plasticity

	STDPPre(syn, 0, 0)
	if dst.Ge[0] != 0.5 {
		t.Fatalf("Ge after pre: got %v, want 0.5", dst.Ge[0])
	}
	if syn.PreTrace[0] != 1 {
		t.Fatalf("pre trace: got %v, want 1", syn.PreTrace[0])
	}
	w := 0.5 - p.PreDecrease
	if !approx(syn.W[0], w) {
		t.Fatalf("w after pre: got %v, want %v", syn.W[0], w)
	}

	// One pre time constant later the pre trace has decayed to 1/e.
	STDPPost(syn, 0, p.TauPre)
	w += p.NuPost * math.Exp(-1)
	if !approx(syn.W[0], w) {
		t.Fatalf("w after post: got %v, want %v", syn.W[0], w)
	}
	if syn.PostTrace[0] != 1 || syn.LastUpdate[0] != p.TauPre {
		t.Fatalf("post trace %v, last update %v", syn.PostTrace[0], syn.LastUpdate[0])
	}
}

func TestSTDP_Clips(t *testing.T) {
	_, _, syn := newSynapses(t, []int32{0}, []int32{0}, []float64{0}, []float64{0})
	STDPPre(syn, 0, 0)
	if syn.W[0] != 0 {
		t.Fatalf("w below 0: got %v", syn.W[0])
	}
	syn.W[0] = syn.Plasticity.WMax
	STDPPost(syn, 0, 0)
	if syn.W[0] != syn.Plasticity.WMax {
		t.Fatalf("w above max: got %v", syn.W[0])
	}
}

func TestMonitors(t *testing.T) {
	c := newClock(t, 0.1)
	c.SetTimestep(7)
	g := model.NewNeuronGroup("g", 3, model.DefaultLIF())
	g.Spikes.Add(0)
	g.Spikes.Add(2)
	st := model.NewState()

	sm := NewSpikeMonitor(g, c)
	if err := sm.Execute(st); err != nil {
		t.Fatal(err)
	}
	if sm.Count() != 2 || len(st.Spikes) != 2 {
		t.Fatalf("spikes: got count %d records %d, want 2", sm.Count(), len(st.Spikes))
	}
	if r := st.Spikes[1]; r.Group != "g" || r.Index != 2 || r.Timestep != 7 {
		t.Fatalf("record: got %+v", r)
	}

	vm := NewStateMonitor(g, c, []int32{1}, 2)
	vm.Execute(st)
	if len(st.Traces) != 0 {
		t.Fatalf("odd step sampled: %v", st.Traces)
	}
	c.Advance()
	vm.Execute(st)
	if len(st.Traces) != 1 || st.Traces[0].Timestep != 8 || st.Traces[0].V != g.V[1] {
		t.Fatalf("traces: got %+v", st.Traces)
	}
}

func TestPusher_LogsGrowthToItsLogger(t *testing.T) {
	c := newClock(t, 0.1)
	_, _, syn := newSynapses(t, []int32{0}, []int32{0}, []float64{1}, []float64{0.3})
	if err := syn.PrePath.Prepare(syn.Target.N, c); err != nil {
		t.Fatal(err)
	}
	if err := syn.PrePath.Queue.SetDelay(0, 1); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := NewPusher(syn.PrePath, logger)
	if err := p.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if syn.PrePath.Queue.Grows() != 1 {
		t.Fatalf("grows: got %d, want 1", syn.PrePath.Queue.Grows())
	}
	if out := buf.String(); !strings.Contains(out, "delay queue grew") || !strings.Contains(out, "pathway=s_pre") {
		t.Fatalf("log: got %q, want a growth record for s_pre", out)
	}
}

// delivery records the timestep at which each link reaches its effect.
type delivery struct {
	dt  float64
	got map[int32][]uint64
}

func (d *delivery) apply(_ *model.Synapses, link int32, t float64) {
	d.got[link] = append(d.got[link], clock.Ticks(t, d.dt))
}

func TestNetwork_DelayedDelivery(t *testing.T) {
	const dt = 0.1
	c := newClock(t, dt)
	src, _, syn := newSynapses(t, []int32{0, 1}, []int32{0, 1}, []float64{1, 1}, []float64{0.3, 0})
	if err := syn.PrePath.Prepare(syn.Target.N, c); err != nil {
		t.Fatal(err)
	}
	gen, err := NewSpikeGenerator(src, c, []int32{0, 1}, []float64{0, 0.2})
	if err != nil {
		t.Fatal(err)
	}
	d := &delivery{dt: dt, got: map[int32][]uint64{}}

	n := network.New(nil, network.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	n.Add(c, NewEffect(syn, syn.PrePath, c, d.apply))
	n.Add(c, gen)
	n.Add(c, NewPusher(syn.PrePath, nil))
	if _, err := n.Run(context.Background(), 1, nil, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Pushed on tick T with delay d, applied on tick T+d+1.
	if got := d.got[0]; len(got) != 1 || got[0] != 4 {
		t.Fatalf("link 0 (fired 0, delay 3): got %v, want [4]", got)
	}
	if got := d.got[1]; len(got) != 1 || got[0] != 3 {
		t.Fatalf("link 1 (fired 2, delay 0): got %v, want [3]", got)
	}
	if syn.PrePath.Queue.Pending() != 0 {
		t.Fatalf("pending after run: %d", syn.PrePath.Queue.Pending())
	}
}

func TestNetwork_DrivenNeuronFires(t *testing.T) {
	const dt = 1e-4
	c := newClock(t, dt)
	st := model.NewState()
	src := model.NewNeuronGroup("in", 1, model.DefaultLIF())
	dst := model.NewNeuronGroup("out", 1, model.DefaultLIF())
	st.AddGroup(src)
	st.AddGroup(dst)
	syn, err := model.NewSynapses("in_out", src, dst, []int32{0}, []int32{0}, []float64{50}, []float64{1e-3})
	if err != nil {
		t.Fatal(err)
	}
	st.AddSynapses(syn)
	if err := syn.PrePath.Prepare(dst.N, c); err != nil {
		t.Fatal(err)
	}
	gen, err := NewSpikeGenerator(src, c, []int32{0}, []float64{0})
	if err != nil {
		t.Fatal(err)
	}
	mon := NewSpikeMonitor(dst, c)

	n := network.New(st, network.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for _, obj := range []network.CodeObject{
		NewEffect(syn, syn.PrePath, c, AddWeight),
		gen,
		NewStateUpdater(dst, c, nil),
		NewThresholder(dst, c),
		NewResetter(dst, c),
		NewPusher(syn.PrePath, nil),
		mon,
	} {
		n.Add(c, obj)
	}
	if _, err := n.Run(context.Background(), 0.02, nil, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mon.Count() != 1 {
		t.Fatalf("spikes: got %d, want 1", mon.Count())
	}
	// Input lands on tick 11; the spike follows within a few ticks.
	if ts := st.Spikes[0].Timestep; ts < 11 || ts > 40 {
		t.Fatalf("spike timestep: got %d, want shortly after 11", ts)
	}
}
