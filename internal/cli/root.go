// Package cli wires the stacktape command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/config"
	"github.com/coral-mesh/stacktape/internal/cli/demo"
	exportcmd "github.com/coral-mesh/stacktape/internal/cli/export"
	"github.com/coral-mesh/stacktape/internal/cli/query"
	"github.com/coral-mesh/stacktape/internal/cli/recordings"
	"github.com/coral-mesh/stacktape/pkg/version"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stacktape",
		Short: "Stacktape - continuous sampling profiler for Go programs",
		Long: `Work with the recordings made by programs that embed the stacktape
profiler.

A recording holds the function calls reconstructed from periodic stack
samples, resource usage over time and markers logged by the program.

Key commands:
- ls / show / rm: browse and inspect stored recordings
- export: convert a recording to OTLP traces, folded stacks or pprof
- query: run SQL over a recording
- demo: profile a built-in workload end to end
- status / config: inspect the local setup`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(recordings.NewLsCmd())
	cmd.AddCommand(recordings.NewShowCmd())
	cmd.AddCommand(recordings.NewRmCmd())
	cmd.AddCommand(exportcmd.NewExportCmd())
	cmd.AddCommand(query.NewQueryCmd())
	cmd.AddCommand(demo.NewDemoCmd())
	cmd.AddCommand(config.NewConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			cmd.Printf("Stacktape version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
			cmd.Printf("Platform:   %s\n", info.Platform)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
