package network

import (
	"fmt"
	"io"
)

// TextReport returns a ProgressFunc that writes one line per report to w.
// Wall times are plain seconds; the estimate is rounded to whole seconds.
//
//	Starting simulation at t=0 s for duration 1 s
//	0.25 s (25%) simulated in 1.2 s, estimated 4 s remaining.
//	1 s (100%) simulated in 4.8 s
func TextReport(w io.Writer) ProgressFunc {
	return func(elapsed, completed, start, duration float64) {
		if completed == 0 && elapsed == 0 {
			fmt.Fprintf(w, "Starting simulation at t=%g s for duration %g s\n", start, duration)
			return
		}
		line := fmt.Sprintf("%g s (%d%%) simulated in %.6g s", completed*duration, int(completed*100), elapsed)
		if completed > 0 && completed < 1 {
			remaining := int((1-completed)/completed*elapsed + 0.5)
			line += fmt.Sprintf(", estimated %d s remaining.", remaining)
		}
		fmt.Fprintln(w, line)
	}
}
