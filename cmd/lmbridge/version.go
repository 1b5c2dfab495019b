package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/lmbridge/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build and deployment versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "build:       %s\n", Version)
		fmt.Fprintf(out, "deployment:  %s\n", cfg.Version.Resolve())
		return nil
	},
}
