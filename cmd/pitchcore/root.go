package main

import (
	"github.com/spf13/cobra"
)

// RootCommand builds the pitchcore command tree (devices, run, bench),
// grounded on birdnet-go's cmd/root.go RootCommand shape: a bare root
// command with subcommands registered by their own Command() constructors.
func RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pitchcore",
		Short: "Real-time pitch and volume detection core",
	}

	root.AddCommand(
		devicesCommand(),
		runCommand(),
		benchCommand(),
	)

	return root
}
