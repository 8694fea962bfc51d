// Command wazgo is a CLI front-end for the wazgo WebAssembly runtime:
// running a command-style WASI binary, inspecting a module's structure, and
// validating a binary without running it (SPEC_FULL.md §6.3).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wazgo/wazgo/internal/tracelog"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// cobra prints nothing (SilenceErrors), so the error is printed here.
		// exitCodeErr carries a guest's own exit code (see run.go) and is not
		// printed; anything else is a plain CLI failure.
		if ec, ok := err.(exitCodeErr); ok {
			os.Exit(int(ec))
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var trace string
	root := &cobra.Command{
		Use:           "wazgo",
		Short:         "wazgo runs and inspects WebAssembly modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if trace == "" {
				return
			}
			tracelog.SetTraceCategories(strings.Split(trace, ","))
		},
	}
	root.PersistentFlags().StringVar(&trace, "trace", "",
		"Comma-separated categories (decode,predecode,regir,jit,exec,wasi) to log at debug level")
	root.AddCommand(newRunCommand())
	root.AddCommand(newInspectCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// exitCodeErr lets a subcommand propagate a guest's WASI exit code through
// cobra's error return without printing anything extra for it.
type exitCodeErr uint32

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit code %d", uint32(e)) }
