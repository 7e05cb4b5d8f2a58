package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/daviddao/delaynet/pkg/model"
)

func (a *app) cmdRuns(args []string) int {
	flags := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := flags.Int("limit", 20, "max runs to list")
	status := flags.String("status", "", "filter by status (running, ok, failed, interrupted)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return exitError
	}

	runs, err := a.store.ListRuns(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: runs: %v\n", err)
		return exitError
	}

	if *status != "" {
		filtered := runs[:0]
		for _, r := range runs {
			if string(r.Status) == *status {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}

	if *jsonOut {
		if runs == nil {
			runs = []model.Run{}
		}
		printJSON(map[string]interface{}{"runs": runs, "count": len(runs)})
		return exitOK
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return exitOK
	}
	for _, r := range runs {
		fmt.Println(runLine(r))
	}
	return exitOK
}

// runLine is the one-line form of a run used by runs, status and watch.
func runLine(r model.Run) string {
	return fmt.Sprintf("%s  %-11s %-14s dur=%gs dt=%gs seed=%d spikes=%s wall=%s",
		shortID(r.ID), r.Status, humanize.Time(r.StartedAt),
		r.Duration, r.Dt, r.Seed, humanize.Comma(r.Spikes), humanizeSeconds(r.WallTime))
}
