// Package config implements the 'stacktape config' command family.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect stacktape configuration",
		Long: `Inspect stacktape configuration.

Configuration Priority:
  1. STACKTAPE_* environment variables (highest)
  2. Config file (STACKTAPE_CONFIG, or ~/.stacktape/config.yaml)
  3. Built-in defaults`,
	}

	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newPathCmd())
	cmd.AddCommand(newInitCmd())

	return cmd
}

// newShowCmd creates the 'config show' command.
func newShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, showFormats); err != nil {
				return err
			}
			return runShow(cmd.OutOrStdout(), config.NewLoader(), helpers.OutputFormat(format))
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, showFormats)
	return cmd
}

var showFormats = []helpers.OutputFormat{helpers.FormatYAML, helpers.FormatJSON}

func runShow(w io.Writer, loader *config.Loader, format helpers.OutputFormat) error {
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	formatter, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	return formatter.Format(cfg, w)
}

// newSchemaCmd creates the 'config schema' command.
func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	}
}

// newPathCmd creates the 'config path' command.
func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.NewLoader().Path())
			return err
		},
	}
}

// newInitCmd creates the 'config init' command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout(), config.NewLoader(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(w io.Writer, loader *config.Loader, force bool) error {
	_, err := os.Stat(loader.Path())
	switch {
	case err == nil && !force:
		return fmt.Errorf("%s already exists (use --force to overwrite)", loader.Path())
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to check %s: %w", loader.Path(), err)
	}

	if err := loader.Save(config.Default()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Wrote %s\n", loader.Path())
	return err
}
