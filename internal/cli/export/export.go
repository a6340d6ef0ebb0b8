// Package exportcmd implements the 'export' command.
package exportcmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/export"
)

type options struct {
	format   string
	location string
	filter   string
	out      string
}

// NewExportCmd creates the 'export' command.
func NewExportCmd() *cobra.Command {
	opts := options{}
	names := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		names[i] = string(f)
	}

	cmd := &cobra.Command{
		Use:   "export <recording>",
		Short: "Convert a recording for other tools",
		Long: `Export a recording's calls and markers.

Formats:
  otlp    OTLP/JSON traces, one trace per goroutine; markers become span events
  folded  collapsed stacks weighted by self time, for flame graph tools
  pprof   a gzipped pprof profile with wall time samples

Examples:
  stacktape export billing/2024_03_01_10_00_00 --format folded | flamegraph.pl > out.svg
  stacktape export billing/2024_03_01_10_00_00 --format pprof -o wall.pb.gz
  stacktape export billing/2024_03_01_10_00_00 --filter 'call.goroutine == 1'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", string(export.FormatOTLP),
		fmt.Sprintf("Export format (%s)", strings.Join(names, ", ")))
	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return names, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output file (default stdout)")
	helpers.AddStorageFlag(cmd, &opts.location)
	helpers.AddFilterFlag(cmd, &opts.filter)
	return cmd
}

func run(ctx context.Context, stdout io.Writer, opts options, ref string) (err error) {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	var filter *export.Filter
	if opts.filter != "" {
		if filter, err = export.NewFilter(opts.filter); err != nil {
			return err
		}
	}
	if format == export.FormatPprof && opts.out == "" && helpers.IsTerminal(stdout) {
		return fmt.Errorf("refusing to write a binary profile to a terminal, use --out")
	}

	store, err := helpers.OpenConfiguredStore(opts.location)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Load(ctx, ref)
	if err != nil {
		return err
	}
	src, err := export.FromRecording(rec).Filter(filter)
	if err != nil {
		return err
	}

	w := stdout
	if opts.out != "" {
		f, cerr := os.Create(opts.out)
		if cerr != nil {
			return fmt.Errorf("failed to create %s: %w", opts.out, cerr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return export.Write(w, format, src)
}
