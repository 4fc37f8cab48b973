package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/polargen/internal/api"
	"github.com/star/polargen/internal/batch"
	"github.com/star/polargen/internal/health"
	"github.com/star/polargen/internal/polar"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	base := loadBatchConfig(logger)
	solver := loadSolverConfig(logger)
	noSolver := false
	var addr string
	var runTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve extrapolation and stored polars over HTTP",
		Long: `Start the HTTP API.

POST /api/v1/extrapolate completes posted samples. POST /api/v1/runs runs
the solver for an airfoil and stores the results, which are then served by
GET /api/v1/polars/{airfoil}/{reynolds}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiCfg, err := loadAPIConfig(logger)
			if err != nil {
				return fmt.Errorf("invalid api configuration: %w", err)
			}
			if addr != "" {
				apiCfg.Addr = addr
			}
			if runTimeout > 0 {
				apiCfg.RunTimeout = runTimeout
			}
			return serve(cmd.Context(), logger, apiCfg, base, solver, !noSolver)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address (default POLARGEN_HTTP_ADDR or :8080)")
	f.DurationVar(&runTimeout, "run-timeout", 0, "limit for one POST /api/v1/runs batch (default POLARGEN_API_RUN_TIMEOUT seconds or 10m)")
	f.Float64Var(&base.AspectRatio, "aspect-ratio", base.AspectRatio, "default aspect ratio for runs")
	f.Float64Var(&base.Mach, "mach", base.Mach, "freestream Mach number for runs")
	f.IntVar(&base.Workers, "workers", base.Workers, "concurrent solver runs per request")
	f.StringVar(&solver.Path, "xfoil", solver.Path, "XFOIL executable")
	f.StringVar(&solver.AirfoilDir, "airfoil-dir", solver.AirfoilDir, "directory holding airfoil coordinate files")
	f.DurationVar(&solver.Timeout, "xfoil-timeout", solver.Timeout, "limit for a single solver run")
	f.StringVar(&solver.CacheDir, "cache-dir", solver.CacheDir, "solver report cache directory, empty disables the cache")
	f.BoolVar(&noSolver, "no-solver", noSolver, "disable POST /api/v1/runs")

	return cmd
}

func serve(parent context.Context, logger *slog.Logger, apiCfg api.Config, base batch.Config, solver solverConfig, withSolver bool) error {
	store := polar.NewStore()

	var runner *batch.Runner
	var ready health.Check
	if withSolver {
		src, err := newSolverSource(logger, solver)
		if err != nil {
			return err
		}
		runner = batch.NewRunner(src, store, logger)
		ready = func() error {
			if _, err := exec.LookPath(solver.Path); err != nil {
				return fmt.Errorf("solver %q not found", solver.Path)
			}
			return nil
		}
	}

	srv := api.NewServer(apiCfg, store, runner, base, ready, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", apiCfg.Addr,
			"auth_enabled", apiCfg.Auth.Enabled,
			"solver_enabled", withSolver,
			"run_timeout_seconds", apiCfg.RunTimeout.Seconds(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
