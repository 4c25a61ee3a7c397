package main

import (
	"fmt"
	"io"

	"polybind/internal/driver"
)

func printBuildTimings(out io.Writer, res *driver.Result) {
	if out == nil || res == nil {
		return
	}
	for _, ph := range res.Timing.Phases {
		if ph.Note != "" {
			fmt.Fprintf(out, "%-12s %8.1f ms  %s\n", ph.Name, ph.DurationMS, ph.Note)
			continue
		}
		fmt.Fprintf(out, "%-12s %8.1f ms\n", ph.Name, ph.DurationMS)
	}
	fmt.Fprintf(out, "%-12s %8.1f ms  (%d instantiations built, %d cache hits)\n",
		"total", res.Timing.TotalMS, res.Cache.Builds, res.Cache.Hits)
	for _, st := range res.Timing.Stages {
		fmt.Fprintf(out, "  %-10s %8.1f ms over %d units, slowest %.1f ms\n", st.Name, st.TotalMS, st.Units, st.MaxMS)
	}
}
