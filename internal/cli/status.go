package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/cli/status"
	"github.com/coral-mesh/stacktape/internal/config"
)

// newStatusCmd creates the global status command.
func newStatusCmd() *cobra.Command {
	var (
		format   string
		verbose  bool
		location string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stacktape environment status",
		Long: `Display an overview of the local stacktape environment:
- whether profiling is enabled and at which cadence
- where recordings are stored, with per-application counts
- whether the configured viewer answers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, statusFormats); err != nil {
				return err
			}
			info, err := status.NewProvider(config.NewLoader()).Query(cmd.Context(), location)
			if err != nil {
				return err
			}

			formatter := status.NewFormatter(cmd.OutOrStdout())
			if format != string(helpers.FormatTable) {
				return formatter.OutputJSON(info)
			}
			return formatter.OutputTable(info, verbose)
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, statusFormats)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the latest recording path per application")
	helpers.AddStorageFlag(cmd, &location)
	return cmd
}

var statusFormats = []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON}
