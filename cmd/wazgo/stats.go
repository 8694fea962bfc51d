package main

import (
	"fmt"
	"io"

	"github.com/wazgo/wazgo"
)

// printStats writes one line per function reporting which tier it ended on
// and how many times it was called, for the run command's --profile flag.
// Silently does nothing if the runtime wasn't tiered or the module wasn't
// compiled against it (wazgo.Stats returns nil in both cases).
func printStats(w io.Writer, rt wazgo.Runtime, cm wazgo.CompiledModule) {
	stats := wazgo.Stats(rt, cm)
	if len(stats) == 0 {
		return
	}
	fmt.Fprintln(w, "function\tinvocations\ttier")
	for _, s := range stats {
		fmt.Fprintf(w, "%d\t%d\t%d\n", s.CodeIndex, s.Invocations, s.Tier)
	}
}
