package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/delaynet/pkg/model"
)

func (a *app) cmdSpikes(args []string) int {
	flags := flag.NewFlagSet("spikes", flag.ContinueOnError)
	limit := flags.Int("limit", 100, "max spikes to print (0 for all)")
	group := flags.String("group", "", "only spikes of this neuron group")
	jsonOut := flags.Bool("json", false, "JSON output")
	ref, err := runArg(flags, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: spikes: %v\n", err)
		return exitError
	}

	r, err := a.resolveRun(ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: spikes: %v\n", err)
		return exitError
	}
	// The group filter applies after the limit would cut, so fetch all.
	fetch := *limit
	if *group != "" {
		fetch = 0
	}
	recs, err := a.store.ListSpikes(r.ID, fetch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: spikes: %v\n", err)
		return exitError
	}
	if *group != "" {
		filtered := recs[:0]
		for _, s := range recs {
			if s.Group == *group {
				filtered = append(filtered, s)
			}
		}
		recs = filtered
		if *limit > 0 && len(recs) > *limit {
			recs = recs[:*limit]
		}
	}

	if *jsonOut {
		if recs == nil {
			recs = []model.SpikeRecord{}
		}
		printJSON(map[string]interface{}{
			"run":    r.ID,
			"spikes": recs,
			"count":  len(recs),
			"total":  a.store.CountSpikes(r.ID),
		})
		return exitOK
	}
	if len(recs) == 0 {
		fmt.Println("no spikes")
		return exitOK
	}
	for _, s := range recs {
		fmt.Printf("[t=%-10.4f ts=%-8d] %s[%d]\n", s.T, s.Timestep, s.Group, s.Index)
	}
	if total := a.store.CountSpikes(r.ID); int64(len(recs)) < total && *group == "" {
		fmt.Printf("... %d of %d shown\n", len(recs), total)
	}
	return exitOK
}

func (a *app) cmdTraces(args []string) int {
	flags := flag.NewFlagSet("traces", flag.ContinueOnError)
	limit := flags.Int("limit", 100, "max samples to print (0 for all)")
	jsonOut := flags.Bool("json", false, "JSON output")
	ref, err := runArg(flags, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: traces: %v\n", err)
		return exitError
	}

	r, err := a.resolveRun(ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: traces: %v\n", err)
		return exitError
	}
	recs, err := a.store.ListTraces(r.ID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: traces: %v\n", err)
		return exitError
	}

	if *jsonOut {
		if recs == nil {
			recs = []model.TraceRecord{}
		}
		printJSON(map[string]interface{}{"run": r.ID, "traces": recs, "count": len(recs)})
		return exitOK
	}
	if len(recs) == 0 {
		fmt.Println("no traces (run with --record-v N)")
		return exitOK
	}
	for _, s := range recs {
		fmt.Printf("[ts=%-8d] %s[%d] v=%.3f mV\n", s.Timestep, s.Group, s.Index, s.V*1e3)
	}
	return exitOK
}
