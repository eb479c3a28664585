package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// NewVersionCmd returns the command printing the build version.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use: "version",

		Short: "Print the lifelined version",

		Args: cobra.NoArgs,

		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lifelined %s (%s)\n", version, runtime.Version())
		},
	}
}
