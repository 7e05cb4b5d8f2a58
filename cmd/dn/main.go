// Command dn is the delaynet CLI: it runs spiking-network simulations with
// per-link transmission delays and inspects the runs it has stored.
package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

const (
	defaultDir = ".delaynet"
	defaultDB  = defaultDir + "/delaynet.db"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 2
	exitPending     = 2 // wait --check on a running run
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitError)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("dn", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	code := dispatch(a, os.Args[1], os.Args[2:])
	a.Close()
	os.Exit(code)
}

func dispatch(a *app, cmd string, args []string) int {
	switch cmd {
	case "init":
		return a.cmdInit(args)
	case "run":
		return a.cmdRun(args)
	case "runs", "ls":
		return a.cmdRuns(args)
	case "show":
		return a.cmdShow(args)
	case "profile":
		return a.cmdProfile(args)
	case "spikes":
		return a.cmdSpikes(args)
	case "traces":
		return a.cmdTraces(args)
	case "digest":
		return a.cmdDigest(args)
	case "clocks":
		return a.cmdClocks(args)
	case "status":
		return a.cmdStatus(args)
	case "watch":
		return a.cmdWatch(args)
	case "wait":
		return a.cmdWait(args)
	default:
		fmt.Fprintf(os.Stderr, "dn: unknown command %q\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'dn --help' for usage.")
		return exitError
	}
}

func printUsage() {
	fmt.Print(`dn: discrete-time spiking networks with per-link delays

Spikes travel through per-pathway delay queues; code objects run in a fixed
order on every tick of their clock. Runs are stored in SQLite.

Usage:
  dn <command> [flags]

Commands:
  init                      Create the run database
  run [flags]               Build and simulate the demo network
  runs [--limit N]          List stored runs, newest first
  show [ID]                 Show a run (default: latest)
  profile [ID]              Per-code-object timing of a run
  spikes [ID] [--limit N]   Recorded spikes of a run
  traces [ID] [--limit N]   Recorded membrane potentials of a run
  digest [ID]               Recompute and verify a run's spike digest
  clocks [run flags]        Show the schedule of the demo network without running it
  status                    Database overview and latest run
  watch [--interval N]      Print runs as they finish
  wait [ID] [--timeout D]   Block until a run finishes (--check: once)

Aliases:
  ls = runs

Run flags:
  --duration S   --dt S   --n N   --inputs N   --rate HZ   --max-delay S
  --w-input W    --seed N --plastic   --pconn P   --record-v N   --v-every N
  --report D     --metrics ADDR   --linger D   --results DIR   --quiet   --json

IDs may be abbreviated to any unique prefix.

Environment:
  DELAYNET_DB       SQLite database path (default: .delaynet/delaynet.db)
  DELAYNET_REDIS    Redis address or URL; finished runs are published there
  DELAYNET_METRICS  Default --metrics address
  DELAYNET_LOG      Log level: debug, info, warn, error (default: warn)

All inspection commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error
  2  run interrupted (run), still running (wait --check)
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "dn: "+format+"\n", args...)
	os.Exit(exitError)
}
