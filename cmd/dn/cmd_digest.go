package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/delaynet/pkg/digest"
)

// cmdDigest recomputes a run's spike digest from the stored spikes and
// compares it with the digest recorded when the run finished.
func (a *app) cmdDigest(args []string) int {
	flags := flag.NewFlagSet("digest", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	ref, err := runArg(flags, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: digest: %v\n", err)
		return exitError
	}

	r, err := a.resolveRun(ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: digest: %v\n", err)
		return exitError
	}
	recs, err := a.store.ListSpikes(r.ID, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dn: digest: %v\n", err)
		return exitError
	}

	got := digest.Spikes(recs)
	verr := digest.Verify(recs, r.Digest)
	if *jsonOut {
		printJSON(map[string]interface{}{
			"run":      r.ID,
			"stored":   r.Digest,
			"computed": got,
			"spikes":   len(recs),
			"ok":       verr == nil,
		})
	} else if verr == nil {
		fmt.Printf("%s  ok (%d spikes)\n", got, len(recs))
	} else {
		fmt.Printf("%s  MISMATCH (stored %s)\n", got, r.Digest)
	}
	if verr != nil {
		if !errors.Is(verr, digest.ErrMismatch) {
			fmt.Fprintf(os.Stderr, "dn: digest: %v\n", verr)
		}
		return exitError
	}
	return exitOK
}
