package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/delaynet/pkg/clock"
	"github.com/daviddao/delaynet/pkg/frontier"
	"github.com/daviddao/delaynet/pkg/network"
	"github.com/daviddao/delaynet/pkg/sim"
)

type clockInfo struct {
	Name    string   `json:"name"`
	Dt      float64  `json:"dt"`
	Ticks   uint64   `json:"ticks"`
	Objects []string `json:"objects"`
}

// cmdClocks builds the network described by the run flags without running
// it and prints its clocks, the code objects each one drives in execution
// order, and the frontier at the start of a run.
func (a *app) cmdClocks(args []string) int {
	flags := flag.NewFlagSet("clocks", flag.ContinueOnError)
	cfg := simFlags(flags)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return exitError
	}

	s, err := sim.Build(*cfg, network.WithLogger(a.logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: clocks: %v\n", err)
		return exitError
	}
	clocks := s.Net.Clocks()
	infos := make([]clockInfo, len(clocks))
	index := make(map[*clock.Clock]int, len(clocks))
	for i, c := range clocks {
		c.SetInterval(0, cfg.Duration)
		index[c] = i
		infos[i] = clockInfo{Name: c.Name(), Dt: c.Dt(), Ticks: clock.CeilTicks(cfg.Duration, c.Dt())}
	}
	for _, r := range s.Net.Objects() {
		i := index[r.Clock]
		infos[i].Objects = append(infos[i].Objects, r.Object.Name())
	}
	st := frontier.ComputeStatus(clocks)

	if *jsonOut {
		printJSON(map[string]interface{}{"clocks": infos, "frontier": st})
		return exitOK
	}
	for _, c := range infos {
		fmt.Printf("%s  dt=%g s  ticks=%d\n", c.Name, c.Dt, c.Ticks)
		for i, name := range c.Objects {
			fmt.Printf("  %2d  %s\n", i, name)
		}
	}
	if st.Done {
		fmt.Println("frontier: empty (nothing to simulate)")
	} else {
		fmt.Printf("frontier: t=%g due=%v\n", st.MinT, st.Due)
	}
	return exitOK
}
