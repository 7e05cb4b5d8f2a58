// Package network schedules code objects across one or more clocks.
//
// A Network is an ordered list of registrations, each pairing a code object
// with the clock it runs on. Run repeatedly takes the frontier of due
// clocks, executes every registration bound to a due clock in registration
// order, then advances the due clocks. Nothing runs concurrently: every
// code object sees the effects of the ones registered before it on the same
// tick, and two runs of the same registrations produce identical state.
package network

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/model"
)

var (
	// ErrAlreadyRunning is returned by Run, Add and Clear while a run is in
	// progress, including calls made from inside a code object.
	ErrAlreadyRunning = errors.New("network: already running")

	// ErrNegativeDuration is returned by Run for a negative or NaN duration.
	ErrNegativeDuration = errors.New("network: duration must be >= 0")
)

// CodeObject is one unit of per-tick work. Execute mutates the shared
// state; a non-nil error stops the run.
type CodeObject interface {
	Name() string
	Execute(st *model.State) error
}

// CodeObjectError reports the code object that stopped a run.
type CodeObjectError struct {
	Name     string
	Clock    string
	Timestep uint64
	Err      error
}

func (e *CodeObjectError) Error() string {
	return fmt.Sprintf("code object %s on %s at step %d: %v", e.Name, e.Clock, e.Timestep, e.Err)
}

func (e *CodeObjectError) Unwrap() error { return e.Err }

// RunState is whether a network is currently inside Run.
type RunState int32

const (
	Idle RunState = iota
	Running
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// ProgressFunc receives the wall-clock seconds spent so far, the completed
// fraction of the run, and the run's simulated start time and duration.
type ProgressFunc func(elapsed, completed, start, duration float64)

// Observer receives timing as the run proceeds. Calls are made from the
// goroutine executing Run.
type Observer interface {
	ObserveCodeObject(name string, d time.Duration)
	ObserveTick(d time.Duration)
	ObserveCompleted(fraction float64)
}

// Registration is one code object bound to a clock.
type Registration struct {
	Order  int
	Clock  *clock.Clock
	Object CodeObject
}

type registration struct {
	Registration
	calls   int64
	elapsed time.Duration
}

// Network is not goroutine-safe apart from State, which may be polled from
// any goroutine.
type Network struct {
	model  *model.State
	regs   []*registration
	clocks []*clock.Clock

	state    atomic.Int32
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	t             float64
	lastWall      float64
	lastCompleted float64
}

// Option configures a Network.
type Option func(*Network)

// WithObserver installs o.
func WithObserver(o Observer) Option {
	return func(n *Network) { n.observer = o }
}

// WithLogger sets the logger used for run lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.logger = l
		}
	}
}

// withNow replaces the wall clock. Tests use it to drive progress reports.
func withNow(f func() time.Time) Option {
	return func(n *Network) { n.now = f }
}

// New returns an empty network operating on st. A nil st gets a fresh
// model.State.
func New(st *model.State, opts ...Option) *Network {
	if st == nil {
		st = model.NewState()
	}
	n := &Network{
		model:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Add registers obj to run on clk after everything registered so far.
func (n *Network) Add(clk *clock.Clock, obj CodeObject) error {
	if n.State() == Running {
		return ErrAlreadyRunning
	}
	if clk == nil || obj == nil {
		return fmt.Errorf("network: nil clock or code object")
	}
	n.regs = append(n.regs, &registration{Registration: Registration{Order: len(n.regs), Clock: clk, Object: obj}})
	for _, c := range n.clocks {
		if c == clk {
			return nil
		}
	}
	n.clocks = append(n.clocks, clk)
	return nil
}

// Clear removes every registration and resets profiling. The network time
// and last-run figures are kept.
func (n *Network) Clear() error {
	if n.State() == Running {
		return ErrAlreadyRunning
	}
	n.regs = nil
	n.clocks = nil
	return nil
}

// Objects returns the registrations in execution order.
func (n *Network) Objects() []Registration {
	out := make([]Registration, len(n.regs))
	for i, r := range n.regs {
		out[i] = r.Registration
	}
	return out
}

// Clocks returns the distinct clocks in first-registration order.
func (n *Network) Clocks() []*clock.Clock {
	return append([]*clock.Clock(nil), n.clocks...)
}

// Logger returns the logger set with WithLogger, or slog.Default.
func (n *Network) Logger() *slog.Logger { return n.logger }

// Model returns the state shared by the code objects.
func (n *Network) Model() *model.State { return n.model }

// State reports whether a run is in progress.
func (n *Network) State() RunState { return RunState(n.state.Load()) }

// T returns the network's simulated time: where the next run starts.
func (n *Network) T() float64 { return n.t }

// LastRunTime returns the wall-clock seconds of the most recent run.
func (n *Network) LastRunTime() float64 { return n.lastWall }

// LastRunCompleted returns the completed fraction of the most recent run.
func (n *Network) LastRunCompleted() float64 { return n.lastCompleted }

// Profile returns the cumulative cost of each registration across runs, in
// registration order.
func (n *Network) Profile() []model.ProfileEntry {
	out := make([]model.ProfileEntry, len(n.regs))
	for i, r := range n.regs {
		out[i] = model.ProfileEntry{
			Order:      r.Order,
			CodeObject: r.Object.Name(),
			Clock:      r.Clock.Name(),
			Calls:      r.calls,
			Seconds:    r.elapsed.Seconds(),
		}
	}
	return out
}
