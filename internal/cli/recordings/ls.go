// Package recordings implements the commands that list, inspect and remove
// stored recordings.
package recordings

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
)

// lsRow is the table rendering of a stored recording.
type lsRow struct {
	Application string `header:"APPLICATION"`
	Recorded    string `header:"RECORDED"`
	Size        string `header:"SIZE"`
	Path        string `header:"PATH"`
}

// NewLsCmd creates the 'ls' command.
func NewLsCmd() *cobra.Command {
	var (
		format    string
		location  string
		timeFlags helpers.TimeFlags
	)

	cmd := &cobra.Command{
		Use:   "ls [application]",
		Short: "List stored recordings",
		Long: `List the recordings in storage, newest first.

Examples:
  stacktape ls
  stacktape ls billing --since 24h
  stacktape ls -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, lsFormats); err != nil {
				return err
			}
			window, err := timeFlags.Parse()
			if err != nil {
				return err
			}

			var application string
			if len(args) == 1 {
				application = args[0]
			}

			store, err := helpers.OpenConfiguredStore(location)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.List(cmd.Context(), application)
			if err != nil {
				return err
			}
			return writeEntries(cmd.OutOrStdout(), filterEntries(entries, window), helpers.OutputFormat(format))
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, lsFormats)
	helpers.AddStorageFlag(cmd, &location)
	timeFlags.AddFlags(cmd.Flags())
	return cmd
}

var lsFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatYAML,
	helpers.FormatCSV,
}

func filterEntries(entries []helpers.Entry, window *helpers.TimeRange) []helpers.Entry {
	if window == nil {
		return entries
	}
	kept := entries[:0:0]
	for _, e := range entries {
		if window.Contains(e.Recorded) {
			kept = append(kept, e)
		}
	}
	return kept
}

func writeEntries(w io.Writer, entries []helpers.Entry, format helpers.OutputFormat) error {
	if format == helpers.FormatTable {
		if len(entries) == 0 {
			_, err := fmt.Fprintln(w, "No recordings found.")
			return err
		}
		rows := make([]lsRow, len(entries))
		for i, e := range entries {
			rows[i] = lsRow{
				Application: e.Application,
				Recorded:    e.Recorded.Format("2006-01-02 15:04:05"),
				Size:        e.Size,
				Path:        e.Path,
			}
		}
		return (&helpers.TableFormatter{}).Format(rows, w)
	}

	if entries == nil {
		entries = []helpers.Entry{}
	}
	formatter, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	return formatter.Format(entries, w)
}
