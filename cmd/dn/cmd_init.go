package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdInit(args []string) int {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	quiet := flags.Bool("quiet", false, "suppress next steps")
	if err := flags.Parse(args); err != nil {
		return exitError
	}

	// newApp has already created and migrated the database.
	runs, err := a.store.ListRuns(-1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: init: %v\n", err)
		return exitError
	}
	fmt.Printf("initialized delaynet (db: %s, %d runs)\n", a.dbPath, len(runs))
	if *quiet {
		return exitOK
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  dn run --duration 1              # simulate the demo network for 1 s")
	fmt.Println("  dn run --plastic --record-v 5    # with STDP and membrane traces")
	fmt.Println("  dn runs                          # list stored runs")
	fmt.Println("  dn digest                        # verify the latest run's spikes")
	return exitOK
}
