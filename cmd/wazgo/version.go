package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wazgo/wazgo/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the wazgo version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetWazgoVersion())
			return nil
		},
	}
}
