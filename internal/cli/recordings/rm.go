package recordings

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
)

// NewRmCmd creates the 'rm' command.
func NewRmCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "rm <recording>...",
		Short: "Remove stored recordings",
		Long: `Remove recordings by path or identifier (application/timestamp).

Examples:
  stacktape rm billing/2024_03_01_10_00_00
  stacktape rm ~/stacktape/billing/2024_03_01_10_00_00.zst`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := helpers.OpenConfiguredStore(location)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			for _, ref := range args {
				p, err := store.Remove(cmd.Context(), ref)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p)
			}
			return nil
		},
	}

	helpers.AddStorageFlag(cmd, &location)
	return cmd
}
