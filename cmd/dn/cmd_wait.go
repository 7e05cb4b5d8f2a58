package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/delaynet/pkg/model"
)

// cmdWait blocks until a run has finished, so scripts can start a run in
// the background and act on its outcome.
//
// Usage:
//
//	dn wait [ID]                  # block until the run finishes
//	dn wait [ID] --timeout 5m     # block with timeout
//	dn wait [ID] --check          # check once
//
// Exit codes:
//
//	0 = finished with status ok
//	1 = error, timeout, or finished failed or interrupted
//	2 = still running (--check mode only)
func (a *app) cmdWait(args []string) int {
	flags := flag.NewFlagSet("wait", flag.ContinueOnError)
	timeout := flags.Duration("timeout", 10*time.Minute, "max time to wait")
	interval := flags.Duration("interval", time.Second, "poll interval")
	check := flags.Bool("check", false, "check once and exit (no blocking)")
	jsonOut := flags.Bool("json", false, "JSON output")
	ref, err := runArg(flags, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: wait: %v\n", err)
		return exitError
	}

	r, err := a.resolveRun(ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: wait: %v\n", err)
		return exitError
	}

	if *check {
		if r.Status == model.RunRunning {
			a.waitReport(r, "check", 0, *jsonOut)
			return exitPending
		}
		return a.waitDone(r, "check", 0, *jsonOut)
	}
	return a.waitFor(r.ID, *timeout, *interval, *jsonOut)
}

func (a *app) waitFor(id string, timeout, interval time.Duration, jsonOut bool) int {
	start := time.Now()
	deadline := start.Add(timeout)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	if !jsonOut {
		fmt.Fprintf(os.Stderr, "waiting for run %s (timeout=%s, poll=%s)\n", shortID(id), timeout, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := a.store.GetRun(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dn: wait: %v\n", err)
			return exitError
		}
		if r.Status != model.RunRunning {
			return a.waitDone(r, "wait", time.Since(start), jsonOut)
		}
		if time.Now().After(deadline) {
			if jsonOut {
				a.waitReport(r, "wait", time.Since(start), true)
			} else {
				fmt.Fprintf(os.Stderr, "dn: wait: timed out after %s\n", timeout)
			}
			return exitError
		}
		select {
		case <-sig:
			fmt.Fprintln(os.Stderr, "\ninterrupted")
			return exitError
		case <-ticker.C:
		}
	}
}

func (a *app) waitDone(r *model.Run, mode string, waited time.Duration, jsonOut bool) int {
	a.waitReport(r, mode, waited, jsonOut)
	if r.Status == model.RunOK {
		return exitOK
	}
	return exitError
}

func (a *app) waitReport(r *model.Run, mode string, waited time.Duration, jsonOut bool) {
	if jsonOut {
		printJSON(map[string]interface{}{
			"run":      r.ID,
			"status":   r.Status,
			"finished": r.Status != model.RunRunning,
			"waited":   waited.Seconds(),
			"mode":     mode,
		})
		return
	}
	if r.Status == model.RunRunning {
		fmt.Printf("RUNNING: %s\n", runLine(*r))
		return
	}
	fmt.Printf("FINISHED: %s\n", runLine(*r))
}
