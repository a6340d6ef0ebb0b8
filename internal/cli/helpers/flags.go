package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds a standard --output/-o flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "output", "o", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// AddFilterFlag adds a standard --filter flag holding a CEL expression over
// calls.
func AddFilterFlag(cmd *cobra.Command, filterVar *string) {
	cmd.Flags().StringVar(filterVar, "filter", "",
		`CEL expression selecting calls, e.g. 'call.duration_ms > 100 && call.name.startsWith("main.")'`)
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}

// AddStorageFlag adds a --storage flag overriding the configured storage
// location.
func AddStorageFlag(cmd *cobra.Command, storageVar *string) {
	cmd.Flags().StringVar(storageVar, "storage", "",
		"Storage location (directory, file:// or duckdb:// URL); defaults to the configured one")
}
