package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wazgo/wazgo"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path to wasm file>",
		Short: "Decodes and validates a WebAssembly binary without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasmBytes, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading wasm binary: %w", err)
			}

			ctx := context.Background()
			rt := wazgo.NewRuntime(ctx)
			defer rt.Close(ctx)

			compiled, err := rt.CompileModule(ctx, wasmBytes)
			if err != nil {
				return fmt.Errorf("invalid module: %w", err)
			}
			defer compiled.Close(ctx)

			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
