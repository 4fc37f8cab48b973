package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/star/polargen/internal/batch"
	"github.com/star/polargen/internal/chart"
	"github.com/star/polargen/internal/polar"
	"github.com/star/polargen/internal/xfoil"
)

func newRunCmd(logger *slog.Logger) *cobra.Command {
	cfg := loadBatchConfig(logger)
	solver := loadSolverConfig(logger)
	outDir := "."
	if v := os.Getenv("POLARGEN_OUT_DIR"); v != "" {
		outDir = v
	}
	noPlot := false

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Solve and extrapolate an airfoil for a list of Reynolds numbers",
		Long: `Run XFOIL on <airfoil-dir>/<airfoil>.txt for each Reynolds number,
extend every polar to -180°..180° and write <airfoil>_<Re>.txt files plus
an <airfoil>_polars.png chart into the output directory.

Solver reports are cached, so repeating a run with the same airfoil,
Reynolds number, Mach number, Ncrit and angle range skips the solver.`,
		Example: `  polargen run --airfoil naca0012 --reynolds 1e5,2e5,5e5 --aspect-ratio 8`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBatch(ctx, logger, cfg, solver, outDir, !noPlot)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Airfoil, "airfoil", cfg.Airfoil, "airfoil coordinate file name without .txt")
	f.Float64SliceVar(&cfg.Reynolds, "reynolds", cfg.Reynolds, "Reynolds numbers, comma separated")
	f.Float64Var(&cfg.Mach, "mach", cfg.Mach, "freestream Mach number")
	f.Float64Var(&cfg.AoAMin, "aoa-min", cfg.AoAMin, "first solver angle of attack in degrees")
	f.Float64Var(&cfg.AoAMax, "aoa-max", cfg.AoAMax, "last solver angle of attack in degrees")
	f.Float64Var(&cfg.AoAStep, "aoa-step", cfg.AoAStep, "solver angle increment in degrees")
	f.Float64Var(&cfg.AspectRatio, "aspect-ratio", cfg.AspectRatio, "wing aspect ratio for the post-stall model")
	f.Float64Var(&cfg.NCrit, "ncrit", cfg.NCrit, "transition amplification factor")
	f.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "solver viscous iterations")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent solver runs")
	f.StringVar(&solver.Path, "xfoil", solver.Path, "XFOIL executable")
	f.StringVar(&solver.AirfoilDir, "airfoil-dir", solver.AirfoilDir, "directory holding airfoil coordinate files")
	f.DurationVar(&solver.Timeout, "xfoil-timeout", solver.Timeout, "limit for a single solver run")
	f.StringVar(&solver.CacheDir, "cache-dir", solver.CacheDir, "solver report cache directory, empty disables the cache")
	f.StringVarP(&outDir, "out", "o", outDir, "output directory")
	f.BoolVar(&noPlot, "no-plot", noPlot, "skip the PNG chart")

	return cmd
}

// newSolverSource builds the XFOIL runner with its report cache.
func newSolverSource(logger *slog.Logger, solver solverConfig) (*xfoil.Runner, error) {
	var cache *xfoil.ReportCache
	if solver.CacheDir != "" {
		c, err := xfoil.NewReportCache(solver.CacheDir, solver.CacheMaxFiles)
		if err != nil {
			return nil, fmt.Errorf("opening report cache: %w", err)
		}
		cache = c
	}

	logger.Info("solver config",
		"path", solver.Path,
		"airfoil_dir", solver.AirfoilDir,
		"timeout_seconds", solver.Timeout.Seconds(),
		"cache_dir", solver.CacheDir,
		"cache_max_files", solver.CacheMaxFiles,
	)

	return xfoil.NewRunner(xfoil.Config{
		Path:       solver.Path,
		AirfoilDir: solver.AirfoilDir,
		Timeout:    solver.Timeout,
	}, cache, logger), nil
}

func runBatch(ctx context.Context, logger *slog.Logger, cfg batch.Config, solver solverConfig, outDir string, plot bool) error {
	src, err := newSolverSource(logger, solver)
	if err != nil {
		return err
	}

	res, err := batch.NewRunner(src, polar.NewStore(), logger).Run(ctx, cfg)
	if err != nil && res == nil {
		return err
	}
	if werr := writeOutputs(logger, res, outDir, plot); werr != nil {
		return werr
	}
	return err
}

// writeOutputs writes one text file per completed polar and the chart.
func writeOutputs(logger *slog.Logger, res *batch.Result, outDir string, plot bool) error {
	reynolds := res.Reynolds()
	if len(reynolds) == 0 {
		return nil
	}

	series := make([]chart.Series, 0, len(reynolds))
	for _, re := range reynolds {
		table := res.Polars[re]
		path, err := polar.WriteFile(outDir, res.Airfoil, re, table)
		if err != nil {
			return err
		}
		logger.Info("polar written", "path", path, "reynolds", re, "points", table.Len())
		series = append(series, chart.Series{Reynolds: re, Table: table})
	}

	if !plot {
		return nil
	}
	path, err := chart.SaveFile(outDir, res.Airfoil, series)
	if err != nil {
		return fmt.Errorf("plotting polars: %w", err)
	}
	logger.Info("chart written", "path", path, "series", len(series))
	return nil
}
