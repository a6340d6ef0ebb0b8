// Package demo implements the 'demo' command, which profiles a synthetic
// workload end to end.
package demo

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/examples/orders"
	"github.com/coral-mesh/stacktape/internal/config"
	"github.com/coral-mesh/stacktape/internal/logging"
	"github.com/coral-mesh/stacktape/pkg/stacktape"
)

type options struct {
	duration    time.Duration
	application string
	workers     int
	location    string
}

// NewDemoCmd creates the 'demo' command.
func NewDemoCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Profile a built-in order-processing workload",
		Long: `Run a synthetic order-processing workload under stacktape and save the
recording like any profiled program would. Use 'stacktape show' on the
printed path to inspect it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			_, err = run(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
			return err
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "duration", 3*time.Second, "How long to run the workload")
	cmd.Flags().StringVar(&opts.application, "app", "stacktape-demo", "Application name of the recording")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "Number of worker goroutines")
	cmd.Flags().StringVar(&opts.location, "storage", "", "Storage location (directory, file:// or duckdb:// URL)")
	return cmd
}

// run profiles the workload and returns the saved recording path.
func run(ctx context.Context, w io.Writer, cfg *config.Config, opts options) (string, error) {
	if opts.duration <= 0 {
		return "", fmt.Errorf("duration must be positive, got %s", opts.duration)
	}
	if opts.location != "" {
		cfg.Storage.URL = opts.location
	}
	cfg.Disable = false
	if cfg.Sampling.SampleDelay == 0 {
		cfg.Sampling.SampleDelay = config.DefaultSampleDelay
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	session := stacktape.New(stacktape.Options{Config: cfg, Logger: &logger, Out: w})
	defer func() { _ = session.Shutdown() }()

	if err := session.Start(opts.application); err != nil {
		return "", err
	}
	workload := logger.Hook(session.MarkerHook()).With().Str("component", "orders").Logger()

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()
	session.Info("demo started with", opts.workers, "workers")
	n, runErr := orders.Run(ctx, orders.Options{Workers: opts.workers, Session: session, Logger: workload})
	session.Info("processed", n, "orders")

	if err := session.Stop(); err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}
	if runErr != nil {
		return session.SavedPath(), runErr
	}
	_, _ = fmt.Fprintf(w, "Processed %d orders. Inspect with: stacktape show %s\n", n, session.SavedPath())
	return session.SavedPath(), nil
}
