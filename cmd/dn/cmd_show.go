package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

func (a *app) cmdShow(args []string) int {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	ref, err := runArg(flags, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: show: %v\n", err)
		return exitError
	}

	r, err := a.resolveRun(ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: show: %v\n", err)
		return exitError
	}

	if *jsonOut {
		printJSON(r)
		return exitOK
	}
	fmt.Printf("run        %s\n", r.ID)
	fmt.Printf("status     %s\n", r.Status)
	fmt.Printf("started    %s (%s)\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	fmt.Printf("duration   %g s at dt=%g s\n", r.Duration, r.Dt)
	fmt.Printf("seed       %d\n", r.Seed)
	fmt.Printf("completed  %.1f%% in %d ticks\n", 100*r.Completed, r.Ticks)
	fmt.Printf("wall time  %s\n", humanizeSeconds(r.WallTime))
	fmt.Printf("spikes     %s\n", humanize.Comma(r.Spikes))
	if r.Digest != "" {
		fmt.Printf("digest     %s\n", r.Digest)
	}
	if r.Error != "" {
		fmt.Printf("error      %s\n", r.Error)
	}
	return exitOK
}
