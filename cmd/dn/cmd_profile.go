package main

import (
	"cmp"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/daviddao/delaynet/pkg/model"
)

func (a *app) cmdProfile(args []string) int {
	flags := flag.NewFlagSet("profile", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	ref, err := runArg(flags, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: profile: %v\n", err)
		return exitError
	}

	r, err := a.resolveRun(ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: profile: %v\n", err)
		return exitError
	}
	entries, err := a.store.ListProfile(r.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: profile: %v\n", err)
		return exitError
	}

	if *jsonOut {
		if entries == nil {
			entries = []model.ProfileEntry{}
		}
		printJSON(map[string]interface{}{"run": r.ID, "profile": entries})
		return exitOK
	}
	if len(entries) == 0 {
		fmt.Println("no profile")
		return exitOK
	}
	var total float64
	for _, e := range entries {
		total += e.Seconds
	}
	fmt.Printf("profile of run %s (%s wall)\n", shortID(r.ID), humanizeSeconds(r.WallTime))
	for _, e := range entries {
		pct := 0.0
		if total > 0 {
			pct = 100 * e.Seconds / total
		}
		fmt.Printf("  %-32s %-14s calls=%-10s %10s %5.1f%%\n",
			e.CodeObject, e.Clock, humanize.Comma(e.Calls), humanizeSeconds(e.Seconds), pct)
	}
	return exitOK
}

// sortProfile orders entries slowest first, keeping registration order
// among ties.
func sortProfile(entries []model.ProfileEntry) {
	slices.SortStableFunc(entries, func(a, b model.ProfileEntry) int {
		return cmp.Compare(b.Seconds, a.Seconds)
	})
}
