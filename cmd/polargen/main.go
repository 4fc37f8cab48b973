// Command polargen generates full-range airfoil polars: it runs the XFOIL
// solver over the low-angle range, completes each polar to -180°..180° with
// the Viterna post-stall model, and serves the results over HTTP.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if err := newRootCmd(logger, level).Execute(); err != nil {
		logger.Error("polargen failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	logLevel := "info"
	if v := os.Getenv("POLARGEN_LOG_LEVEL"); v != "" {
		logLevel = v
	}

	root := &cobra.Command{
		Use:   "polargen",
		Short: "Full-range airfoil polar generation",
		Long: `Generate airfoil polars covering the full -180° to 180° angle of attack
range.

The low-angle part of each polar comes from the XFOIL panel solver (or
from an existing polar file); the post-stall part is extrapolated with the
Viterna-Corrigan flat plate model for a given wing aspect ratio.

Subcommands:
  run          - Solve and extrapolate an airfoil for a list of Reynolds numbers
  extrapolate  - Complete existing polar files without running the solver
  serve        - Serve extrapolation and stored polars over HTTP`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			level.Set(l)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(logger),
		newExtrapolateCmd(logger),
		newServeCmd(logger),
	)
	return root
}
