package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/daviddao/delaynet/pkg/digest"
	"github.com/daviddao/delaynet/pkg/metrics"
	"github.com/daviddao/delaynet/pkg/model"
	"github.com/daviddao/delaynet/pkg/network"
	"github.com/daviddao/delaynet/pkg/publish"
	"github.com/daviddao/delaynet/pkg/sim"
)

// simFlags binds the network description flags shared by run and clocks.
func simFlags(flags *flag.FlagSet) *sim.Config {
	cfg := sim.DefaultConfig()
	flags.Float64Var(&cfg.Duration, "duration", cfg.Duration, "simulated seconds")
	flags.Float64Var(&cfg.Dt, "dt", cfg.Dt, "time step in seconds")
	flags.IntVar(&cfg.N, "n", cfg.N, "LIF units")
	flags.IntVar(&cfg.Inputs, "inputs", cfg.Inputs, "Poisson input units")
	flags.Float64Var(&cfg.Rate, "rate", cfg.Rate, "input rate in Hz")
	flags.Float64Var(&cfg.MaxDelay, "max-delay", cfg.MaxDelay, "largest synaptic delay in seconds")
	flags.Float64Var(&cfg.WInput, "w-input", cfg.WInput, "largest input weight")
	flags.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flags.BoolVar(&cfg.Plastic, "plastic", cfg.Plastic, "add a recurrent STDP pathway")
	flags.Float64Var(&cfg.PConn, "pconn", cfg.PConn, "recurrent connection probability")
	flags.IntVar(&cfg.RecordV, "record-v", cfg.RecordV, "record the membrane potential of the first N units")
	flags.IntVar(&cfg.VEvery, "v-every", cfg.VEvery, "record potentials every N ticks")
	return &cfg
}

// runSummary is the JSON shape printed by run.
type runSummary struct {
	model.Run
	Interrupted bool    `json:"interrupted,omitempty"`
	Published   bool    `json:"published,omitempty"`
	Queues      []queue `json:"queues"`
}

type queue struct {
	Pathway      string `json:"pathway"`
	Links        int    `json:"links"`
	BufferLength int    `json:"buffer_length"`
	Grows        int    `json:"grows"`
}

func (a *app) cmdRun(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	cfg := simFlags(flags)
	reportEvery := flags.Duration("report", 10*time.Second, "progress report period (0 disables periodic reports)")
	metricsAddr := flags.String("metrics", envOr("DELAYNET_METRICS", ""), "serve Prometheus metrics on this address during the run")
	linger := flags.Duration("linger", 15*time.Second, "keep serving --metrics this long after the run so the final values get scraped")
	resultsDir := flags.String("results", "", "also write last_run_info.txt and profiling_info.txt to this directory")
	quiet := flags.Bool("quiet", false, "no progress output")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if *metricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, *metricsAddr); err != nil {
				a.logger.Error("metrics server", "addr", *metricsAddr, "err", err)
			}
		}()
	}

	s, err := sim.Build(*cfg, network.WithObserver(m), network.WithLogger(a.logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: run: %v\n", err)
		return exitError
	}

	run := &model.Run{Duration: cfg.Duration, Dt: cfg.Dt, Seed: int64(cfg.Seed)}
	if err := a.store.CreateRun(run); err != nil {
		fmt.Fprintf(os.Stderr, "dn: run: %v\n", err)
		return exitError
	}
	log := a.logger.With("run", run.ID)

	var report network.ProgressFunc
	if !*quiet {
		report = network.TextReport(os.Stderr)
	}
	res, runErr := s.Net.Run(ctx, cfg.Duration, report, *reportEvery)

	run.WallTime = res.WallTime
	run.Completed = res.Completed
	run.Ticks = res.Ticks
	run.Spikes = int64(len(s.State.Spikes))
	run.Digest = digest.Spikes(s.State.Spikes)
	switch {
	case res.Interrupted:
		run.Status = model.RunInterrupted
	case runErr != nil:
		run.Status = model.RunFailed
	default:
		run.Status = model.RunOK
	}
	if runErr != nil && !res.Interrupted {
		run.Error = runErr.Error()
	}

	if err := a.persist(run, s); err != nil {
		fmt.Fprintf(os.Stderr, "dn: run: %v\n", err)
		return exitError
	}

	observeFinished(m, run, s)
	sum := runSummary{Run: *run, Interrupted: res.Interrupted}
	for _, p := range s.Pathways() {
		sum.Queues = append(sum.Queues, queue{
			Pathway:      p.Name,
			Links:        p.Queue.NumLinks(),
			BufferLength: p.Queue.BufferLength(),
			Grows:        p.Queue.Grows(),
		})
	}

	if addr := envOr("DELAYNET_REDIS", ""); addr != "" {
		// Publishing is best effort; the run is already stored.
		if err := publishRun(context.Background(), addr, *run); err != nil {
			log.Warn("publish failed", "err", err)
		} else {
			sum.Published = true
		}
	}

	if *resultsDir != "" {
		if err := writeResults(*resultsDir, run, s.Net.Profile()); err != nil {
			fmt.Fprintf(os.Stderr, "dn: run: %v\n", err)
			return exitError
		}
	}

	if *jsonOut {
		printJSON(sum)
	} else {
		printRunSummary(sum)
	}

	if *metricsAddr != "" && *linger > 0 && !res.Interrupted {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "dn: serving metrics on %s for %s\n", *metricsAddr, *linger)
		}
		select {
		case <-time.After(*linger):
		case <-ctx.Done():
		}
	}

	switch {
	case res.Interrupted:
		return exitInterrupted
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "dn: run: %v\n", runErr)
		return exitError
	}
	return exitOK
}

// observeFinished records the per-run series: the run status, spikes per
// group and the growth count of every pathway's queue.
func observeFinished(m *metrics.Metrics, run *model.Run, s *sim.Sim) {
	m.ObserveRun(run.Status)
	for _, g := range s.State.Groups() {
		m.ObserveSpikes(g.Name, countGroup(s.State.Spikes, g.Name))
	}
	for _, p := range s.Pathways() {
		m.ObserveQueue(p.Name, p.Queue.Grows())
	}
}

// persist stores everything a finished run produced. The run row is
// finished last so that a listed run always has its recordings.
func (a *app) persist(run *model.Run, s *sim.Sim) error {
	if err := a.store.InsertProfile(run.ID, s.Net.Profile()); err != nil {
		return err
	}
	if err := a.store.InsertSpikes(run.ID, s.State.Spikes); err != nil {
		return err
	}
	if err := a.store.InsertTraces(run.ID, s.State.Traces); err != nil {
		return err
	}
	return a.store.FinishRun(run)
}

func publishRun(ctx context.Context, addr string, run model.Run) error {
	c, err := publish.NewGoRedisClient(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	return publish.New(c).Publish(ctx, run)
}

// writeResults writes the plain-text run files: last_run_info.txt holds
// "<wall time> <completed>" and profiling_info.txt one
// "<code object> <seconds>" line per code object, slowest first.
func writeResults(dir string, run *model.Run, profile []model.ProfileEntry) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("results: %w", err)
	}
	info := fmt.Sprintf("%g %g\n", run.WallTime, run.Completed)
	if err := os.WriteFile(filepath.Join(dir, "last_run_info.txt"), []byte(info), 0644); err != nil {
		return fmt.Errorf("results: %w", err)
	}
	sortProfile(profile)
	var b []byte
	for _, e := range profile {
		b = fmt.Appendf(b, "%s %g\n", e.CodeObject, e.Seconds)
	}
	if err := os.WriteFile(filepath.Join(dir, "profiling_info.txt"), b, 0644); err != nil {
		return fmt.Errorf("results: %w", err)
	}
	return nil
}

func countGroup(recs []model.SpikeRecord, group string) int {
	n := 0
	for _, r := range recs {
		if r.Group == group {
			n++
		}
	}
	return n
}

func printRunSummary(s runSummary) {
	fmt.Printf("run %s  %s\n", shortID(s.ID), s.Status)
	fmt.Printf("  simulated %g s in %s (%d ticks, %.0f%% complete)\n",
		s.Duration, humanizeSeconds(s.WallTime), s.Ticks, 100*s.Completed)
	fmt.Printf("  spikes    %s\n", humanize.Comma(s.Spikes))
	fmt.Printf("  digest    %s\n", s.Digest)
	for _, q := range s.Queues {
		fmt.Printf("  queue     %-20s links=%-8s buffer=%d grows=%d\n",
			q.Pathway, humanize.Comma(int64(q.Links)), q.BufferLength, q.Grows)
	}
	if s.Error != "" {
		fmt.Printf("  error     %s\n", s.Error)
	}
	if s.Published {
		fmt.Println("  published to redis")
	}
}

// humanizeSeconds renders a wall time with a sensible unit.
func humanizeSeconds(sec float64) string {
	d := time.Duration(sec * float64(time.Second))
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Microsecond).String()
	}
	return d.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
