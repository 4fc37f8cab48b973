package xfoil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/star/polargen/internal/metrics"
	"github.com/star/polargen/internal/polar"
)

const (
	defaultPath    = "xfoil"
	defaultTimeout = 2 * time.Minute

	polarFileName = "polar.pol"
)

var (
	// ErrInvalidAirfoil is returned for an airfoil name that is not a plain
	// file name inside the airfoil directory.
	ErrInvalidAirfoil = errors.New("invalid airfoil name")

	// ErrAirfoilNotFound is returned when the coordinate file does not exist.
	ErrAirfoilNotFound = errors.New("airfoil coordinate file not found")

	// ErrNoPolar is returned when the solver exits without saving a polar.
	ErrNoPolar = errors.New("solver did not write a polar file")

	// ErrNoSamples is returned when the saved polar has no data rows.
	ErrNoSamples = errors.New("no polar data recovered")
)

// Config holds solver configuration loaded from environment variables and flags.
type Config struct {
	Path       string        // Solver executable (default: "xfoil")
	AirfoilDir string        // Directory holding <airfoil>.txt coordinate files
	WorkDir    string        // Parent of per-run working directories (default: os.TempDir())
	Timeout    time.Duration // Per-run limit (default: 2m)
}

// Runner invokes the solver and parses its saved polar.
type Runner struct {
	config Config
	cache  *ReportCache
	logger *slog.Logger
}

// NewRunner creates a Runner. cache may be nil to always invoke the solver.
func NewRunner(config Config, cache *ReportCache, logger *slog.Logger) *Runner {
	if config.Path == "" {
		config.Path = defaultPath
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &Runner{
		config: config,
		cache:  cache,
		logger: logger,
	}
}

// Samples returns the polar samples for job, from the report cache when a
// report for identical inputs exists, otherwise by running the solver.
func (r *Runner) Samples(ctx context.Context, job Job) ([]polar.Sample, error) {
	if !ValidAirfoilName(job.Airfoil) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAirfoil, job.Airfoil)
	}
	key := job.Key()

	if r.cache != nil {
		if data, ts, err := r.cache.LoadLatest(key); err == nil {
			samples, err := r.parse(data, job)
			if err == nil {
				metrics.IncReportCache(true)
				r.logger.Debug("solver report served from cache",
					"airfoil", job.Airfoil,
					"reynolds", job.Reynolds,
					"cached_at", ts.UTC().Format(time.RFC3339),
				)
				return samples, nil
			}
			r.logger.Warn("ignoring unusable cached report", "key", key, "error", err)
		}
		metrics.IncReportCache(false)
	}

	start := time.Now()
	data, err := r.run(ctx, job)
	metrics.RecordSolverRun(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	samples, err := r.parse(data, job)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Write(key, data, time.Now()); err != nil {
			r.logger.Warn("failed to cache solver report", "key", key, "error", err)
		}
	}

	r.logger.Info("solver run complete",
		"airfoil", job.Airfoil,
		"reynolds", job.Reynolds,
		"samples", len(samples),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return samples, nil
}

// run executes the solver in a private working directory and returns the raw
// saved polar.
func (r *Runner) run(ctx context.Context, job Job) ([]byte, error) {
	airfoilPath, err := filepath.Abs(filepath.Join(r.config.AirfoilDir, job.Airfoil+".txt"))
	if err != nil {
		return nil, fmt.Errorf("resolving airfoil path: %w", err)
	}
	if _, err := os.Stat(airfoilPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAirfoilNotFound, airfoilPath)
	}

	dir, err := os.MkdirTemp(r.config.WorkDir, "xfoil-")
	if err != nil {
		return nil, fmt.Errorf("creating solver work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	polarPath := filepath.Join(dir, polarFileName)
	// XFOIL appends to an existing polar file; start clean.
	if err := os.Remove(polarPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale polar file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, r.config.Path)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(Script(job, airfoilPath, polarFileName))
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = time.Second

	r.logger.Debug("starting solver",
		"path", r.config.Path,
		"airfoil", job.Airfoil,
		"reynolds", job.Reynolds,
		"angles", len(job.Angles),
	)

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("solver run for Re=%s: %w", num(job.Reynolds), ctx.Err())
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("starting solver: %w", runErr)
		}
		// The exit status alone is not conclusive; the polar file is.
		r.logger.Warn("solver exited with error", "reynolds", job.Reynolds, "error", runErr)
	}

	data, err := os.ReadFile(polarPath)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug("solver output", "output", tail(output.String(), 2048))
			return nil, fmt.Errorf("%w (Re=%s)", ErrNoPolar, num(job.Reynolds))
		}
		return nil, fmt.Errorf("reading polar file: %w", err)
	}
	return data, nil
}

func (r *Runner) parse(data []byte, job Job) ([]polar.Sample, error) {
	samples, err := polar.ParseReport(bytes.NewReader(data), polar.ReportHeaderLines, r.logger)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w (Re=%s)", ErrNoSamples, num(job.Reynolds))
	}
	return samples, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
