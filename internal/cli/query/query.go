// Package query implements the 'query' command: SQL over a recording loaded
// into an in-memory DuckDB database.
package query

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
)

// NewQueryCmd creates the query command for one-shot SQL queries.
func NewQueryCmd() *cobra.Command {
	var (
		format   string
		location string
	)

	cmd := &cobra.Command{
		Use:   "query <recording> <sql>",
		Short: "Run SQL against a recording",
		Long: `Loads a recording into an in-memory DuckDB database and runs a SQL query.

Tables:
  calls     goroutine, name, file, line, caller, depth, start_ms, duration_ms
  markers   kind, at_ms, duration_ms, message, goroutine, frame
  statuses  at_ms, cpu, system_cpu, memory, memory_total, memory_free,
            modules, objects, goroutines

Examples:
  # Slowest functions by cumulative time
  stacktape query billing/2024_03_01_10_00_00 \
    "SELECT name, count(*) AS calls, sum(duration_ms) AS total FROM calls GROUP BY name ORDER BY total DESC LIMIT 10"

  # Warnings and errors with the function that logged them (CSV)
  stacktape query billing/2024_03_01_10_00_00 \
    "SELECT at_ms, frame, message FROM markers WHERE kind IN ('warn', 'error')" -o csv`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			return run(ctx, cmd.OutOrStdout(), location, args[0], args[1], format)
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, queryFormats)
	helpers.AddStorageFlag(cmd, &location)
	return cmd
}

var queryFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatCSV,
	helpers.FormatJSON,
}

func run(ctx context.Context, w io.Writer, location, ref, sqlQuery, format string) error {
	if err := helpers.ValidateFormat(format, queryFormats); err != nil {
		return err
	}

	store, err := helpers.OpenConfiguredStore(location)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Load(ctx, ref)
	if err != nil {
		return err
	}

	db, err := Open(ctx, rec)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to get columns: %w", err)
	}

	switch helpers.OutputFormat(format) {
	case helpers.FormatCSV:
		err = printResultsAsCSV(w, rows, columns)
	case helpers.FormatJSON:
		err = printResultsAsJSON(w, rows, columns)
	default:
		err = printResultsAsTable(w, rows, columns)
	}
	if err != nil {
		return err
	}
	return rows.Err()
}
