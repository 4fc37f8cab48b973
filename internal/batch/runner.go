// Package batch generates completed polars for a list of Reynolds numbers.
//
// Each Reynolds number is an independent job: fetch the low-angle polar from
// a Source, then extend it with the Viterna model. Jobs run on a fixed-size
// worker pool; results land in a polar.Store and in the returned Result.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/star/polargen/internal/metrics"
	"github.com/star/polargen/internal/polar"
	"github.com/star/polargen/internal/viterna"
)

// ErrNoResults is returned when every Reynolds number failed.
var ErrNoResults = errors.New("no polar completed")

// job is a unit of work for the worker pool.
type job struct {
	reynolds float64
}

// jobResult is the output of a single Reynolds number.
type jobResult struct {
	reynolds float64
	table    *polar.Table
	err      error
}

// Runner orchestrates polar generation.
type Runner struct {
	source Source
	store  *polar.Store
	logger *slog.Logger
}

// NewRunner creates a Runner. store may be nil.
func NewRunner(source Source, store *polar.Store, logger *slog.Logger) *Runner {
	return &Runner{
		source: source,
		store:  store,
		logger: logger,
	}
}

// Run completes one polar per configured Reynolds number. Failed Reynolds
// numbers are logged and reported in Result.Failures; Run itself fails only
// for an invalid config, a cancelled context, or when nothing completed.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(cfg.Reynolds) {
		workers = len(cfg.Reynolds)
	}

	r.logger.Info("batch starting",
		"airfoil", cfg.Airfoil,
		"reynolds_count", len(cfg.Reynolds),
		"aspect_ratio", cfg.AspectRatio,
		"workers", workers,
	)

	start := time.Now()
	jobs := make(chan job, workers*2)
	results := make(chan jobResult, workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.AddBatchWorkersActive(1)
			defer metrics.AddBatchWorkersActive(-1)
			for j := range jobs {
				res := r.complete(ctx, cfg, j)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for _, re := range cfg.Reynolds {
			select {
			case jobs <- job{reynolds: re}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results.
	out := &Result{
		Airfoil:  cfg.Airfoil,
		Polars:   make(map[float64]*polar.Table, len(cfg.Reynolds)),
		Failures: make(map[float64]error),
	}
	for res := range results {
		if res.err != nil {
			out.Failures[res.reynolds] = res.err
			r.logger.Warn("polar generation failed",
				"airfoil", cfg.Airfoil,
				"reynolds", res.reynolds,
				"error", res.err,
			)
			continue
		}
		out.Polars[res.reynolds] = res.table
		if r.store != nil {
			r.store.Put(cfg.Airfoil, res.reynolds, res.table)
		}
	}

	r.logger.Info("batch complete",
		"airfoil", cfg.Airfoil,
		"completed", len(out.Polars),
		"failed", len(out.Failures),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("batch interrupted: %w", err)
	}
	if len(out.Polars) == 0 {
		return out, fmt.Errorf("%w for %s: %w", ErrNoResults, cfg.Airfoil, errors.Join(failureList(out)...))
	}
	return out, nil
}

// complete fetches samples and extrapolates them for one Reynolds number.
func (r *Runner) complete(ctx context.Context, cfg Config, j job) jobResult {
	if err := ctx.Err(); err != nil {
		return jobResult{reynolds: j.reynolds, err: err}
	}

	samples, err := r.source.Samples(ctx, cfg.Job(j.reynolds))
	if err != nil {
		return jobResult{reynolds: j.reynolds, err: fmt.Errorf("fetching samples: %w", err)}
	}

	start := time.Now()
	table, err := viterna.Extrapolate(samples, cfg.AspectRatio)
	duration := time.Since(start)
	metrics.RecordExtrapolation(duration, err)
	if err != nil {
		return jobResult{reynolds: j.reynolds, err: fmt.Errorf("extrapolating: %w", err)}
	}

	r.logger.Debug("polar completed",
		"reynolds", j.reynolds,
		"samples", len(samples),
		"points", table.Len(),
		"stall_aoa", samples[len(samples)-1].AoA,
		"duration_us", duration.Microseconds(),
	)

	return jobResult{reynolds: j.reynolds, table: table}
}

func failureList(res *Result) []error {
	errs := make([]error, 0, len(res.Failures))
	for re, err := range res.Failures {
		errs = append(errs, fmt.Errorf("Re=%s: %w", polar.FormatReynolds(re), err))
	}
	return errs
}
