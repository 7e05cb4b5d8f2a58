package network

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/frontier"
)

// Result summarizes one call to Run.
type Result struct {
	WallTime    float64 `json:"wall_time"`
	Completed   float64 `json:"completed"`
	Ticks       int64   `json:"ticks"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Interrupted bool    `json:"interrupted,omitempty"`
}

// Run simulates duration seconds starting at the network's current time.
//
// report, if non-nil, is called once with (0, 0, start, duration) before the
// first tick, then whenever period of wall time has passed since the last
// report, and once more when the loop ends. A panic inside report is
// recovered and ignored.
//
// If a code object returns an error or panics, the run stops at once and
// the error is returned as a *CodeObjectError. The result's Completed keeps
// the fraction reached by the last fully executed tick. If ctx is done
// between ticks the run stops with Interrupted set and ctx's error.
func (n *Network) Run(ctx context.Context, duration float64, report ProgressFunc, period time.Duration) (Result, error) {
	if !(duration >= 0) || math.IsInf(duration, 0) {
		return Result{}, fmt.Errorf("%w: got %v", ErrNegativeDuration, duration)
	}
	if !n.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return Result{}, ErrAlreadyRunning
	}
	defer n.state.Store(int32(Idle))

	start := n.t
	for _, c := range n.clocks {
		c.SetInterval(start, start+duration)
		c.Freeze()
	}
	res := Result{Start: start, Duration: duration}
	log := n.logger.With("start", start, "duration", duration)
	log.Info("run starting", "objects", len(n.regs), "clocks", len(n.clocks))

	wallStart := n.now()
	lastReport := wallStart
	n.report(report, 0, 0, start, duration)

	isDue := make(map[*clock.Clock]bool, len(n.clocks))
	var runErr error
	for {
		if err := ctx.Err(); err != nil {
			res.Interrupted = true
			runErr = err
			break
		}
		due := frontier.Due(n.clocks)
		if len(due) == 0 {
			break
		}
		clear(isDue)
		for _, c := range due {
			isDue[c] = true
		}

		tickStart := n.now()
		for _, r := range n.regs {
			if !isDue[r.Clock] {
				continue
			}
			if err := n.execute(r); err != nil {
				runErr = err
				break
			}
		}
		if runErr != nil {
			break
		}
		for _, c := range due {
			c.Advance()
		}
		res.Ticks++
		res.Completed = n.completed(start, duration)

		now := n.now()
		if n.observer != nil {
			n.observer.ObserveTick(now.Sub(tickStart))
			n.observer.ObserveCompleted(res.Completed)
		}
		if report != nil && period > 0 && now.Sub(lastReport) >= period {
			lastReport = now
			n.report(report, now.Sub(wallStart).Seconds(), res.Completed, start, duration)
		}
	}

	if runErr == nil && !res.Interrupted {
		res.Completed = n.completed(start, duration)
	}
	res.WallTime = n.now().Sub(wallStart).Seconds()
	n.report(report, res.WallTime, res.Completed, start, duration)

	n.lastWall = res.WallTime
	n.lastCompleted = res.Completed
	n.t = n.frontierTime(start + duration)

	switch {
	case res.Interrupted:
		log.Warn("run interrupted", "completed", res.Completed, "ticks", res.Ticks)
	case runErr != nil:
		log.Error("run failed", "err", runErr, "completed", res.Completed, "ticks", res.Ticks)
	default:
		log.Info("run finished", "wall_time", res.WallTime, "ticks", res.Ticks)
	}
	return res, runErr
}

// execute runs one registration, converting panics into errors.
func (n *Network) execute(r *registration) (err error) {
	start := n.now()
	defer func() {
		d := n.now().Sub(start)
		r.calls++
		r.elapsed += d
		if n.observer != nil {
			n.observer.ObserveCodeObject(r.Object.Name(), d)
		}
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			err = &CodeObjectError{
				Name:     r.Object.Name(),
				Clock:    r.Clock.Name(),
				Timestep: r.Clock.Timestep(),
				Err:      err,
			}
		}
	}()
	return r.Object.Execute(n.model)
}

func (n *Network) report(fn ProgressFunc, elapsed, completed, start, duration float64) {
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			n.logger.Warn("progress report panicked", "panic", p)
		}
	}()
	fn(elapsed, completed, start, duration)
}

// completed returns the fraction of [start, start+duration) covered by the
// earliest running clock. A zero duration counts as complete.
func (n *Network) completed(start, duration float64) float64 {
	if duration == 0 {
		return 1
	}
	t := n.frontierTime(start + duration)
	f := (t - start) / duration
	return math.Max(0, math.Min(1, f))
}

// frontierTime is the current time of the earliest running clock, or end
// when every clock has finished.
func (n *Network) frontierTime(end float64) float64 {
	due := frontier.Due(n.clocks)
	if len(due) == 0 {
		return end
	}
	return due[0].T()
}
