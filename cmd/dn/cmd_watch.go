package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/delaynet/pkg/model"
)

// cmdWatch prints each run once it has finished, polling the store.
func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := flags.Int("interval", 1, "poll interval in seconds")
	jsonOut := flags.Bool("json", false, "JSON output (one JSON object per line)")
	if err := flags.Parse(args); err != nil {
		return exitError
	}
	pollInterval := time.Duration(*interval) * time.Second
	if pollInterval <= 0 {
		fmt.Fprintln(os.Stderr, "dn: watch: --interval must be positive")
		return exitError
	}

	// Runs already finished are not reprinted.
	seen, err := a.finishedRuns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: watch: %v\n", err)
		return exitError
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	fmt.Fprintf(os.Stderr, "watching %s for finished runs (poll every %s, ctrl-c to stop)\n",
		a.dbPath, pollInterval)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			fmt.Fprintln(os.Stderr, "\nstopped")
			return exitOK
		case <-ticker.C:
			a.pollFinished(seen, *jsonOut)
		}
	}
}

// finishedRuns returns the IDs of the runs that are already finished.
func (a *app) finishedRuns() (map[string]bool, error) {
	runs, err := a.store.ListRuns(-1)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(runs))
	for _, r := range runs {
		if r.Status != model.RunRunning {
			seen[r.ID] = true
		}
	}
	return seen, nil
}

// pollFinished prints the runs that finished since the last poll, oldest
// first, and marks them seen. It returns how many it printed.
func (a *app) pollFinished(seen map[string]bool, jsonOut bool) int {
	runs, err := a.store.ListRuns(-1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: watch: %v\n", err)
		return 0
	}
	n := 0
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if r.Status == model.RunRunning || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		n++
		if jsonOut {
			b, _ := json.Marshal(r)
			fmt.Println(string(b))
		} else {
			fmt.Println(runLine(r))
		}
	}
	return n
}
