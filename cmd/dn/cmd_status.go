package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/daviddao/delaynet/pkg/model"
)

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return exitError
	}

	runs, err := a.store.ListRuns(-1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: status: %v\n", err)
		return exitError
	}

	counts := make(map[model.RunStatus]int)
	for _, r := range runs {
		counts[r.Status]++
	}
	var latest *model.Run
	if len(runs) > 0 {
		latest = &runs[0]
	}

	if *jsonOut {
		result := map[string]interface{}{
			"db":     a.dbPath,
			"runs":   len(runs),
			"counts": counts,
		}
		if latest != nil {
			result["latest"] = latest
			result["presence"] = runPresence(*latest)
		}
		printJSON(result)
		return exitOK
	}

	fmt.Printf("db: %s\n", a.dbPath)
	fmt.Printf("runs: %d", len(runs))
	for _, st := range []model.RunStatus{model.RunOK, model.RunFailed, model.RunInterrupted, model.RunRunning} {
		if counts[st] > 0 {
			fmt.Printf("  %s=%d", st, counts[st])
		}
	}
	fmt.Println()
	if latest == nil {
		fmt.Println("latest: none (try 'dn run')")
		return exitOK
	}
	fmt.Printf("latest: %s %s\n", presenceIndicator(runPresence(*latest)), runLine(*latest))
	if latest.Status == model.RunRunning {
		fmt.Printf("  started %s, not finished\n", humanize.Time(latest.StartedAt))
	}
	return exitOK
}

// runPresence classifies a run for display.
//   - "done"  finished, in any status
//   - "live"  running and started within the last hour
//   - "stale" still marked running after an hour; the process likely died
func runPresence(r model.Run) string {
	switch {
	case r.Status != model.RunRunning:
		return "done"
	case time.Since(r.StartedAt) < time.Hour:
		return "live"
	default:
		return "stale"
	}
}

// presenceIndicator returns a short text indicator for display.
func presenceIndicator(presence string) string {
	switch presence {
	case "done":
		return "[+]"
	case "live":
		return "[~]"
	default:
		return "[-]"
	}
}
