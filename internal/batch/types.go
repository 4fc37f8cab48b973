package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/star/polargen/internal/polar"
	"github.com/star/polargen/internal/xfoil"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid batch config")

// Config holds one polar generation run, loaded from environment variables
// and flags.
type Config struct {
	Airfoil     string    // Coordinate file name without .txt
	Mach        float64   // Freestream Mach number (default: 0.05)
	AoAMin      float64   // First solver angle in degrees (default: -10)
	AoAMax      float64   // Last solver angle in degrees (default: 20)
	AoAStep     float64   // Solver angle increment (default: 1)
	Reynolds    []float64 // One completed polar per entry
	AspectRatio float64   // Wing aspect ratio for the post-stall model (default: 6)
	NCrit       float64   // Transition amplification factor (default: 9)
	Iterations  int       // Solver viscous iterations (default: 250)
	Workers     int       // Worker pool size (default: runtime.NumCPU())
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	switch {
	case c.Airfoil == "":
		return fmt.Errorf("%w: airfoil is required", ErrInvalidConfig)
	case !xfoil.ValidAirfoilName(c.Airfoil):
		return fmt.Errorf("%w: airfoil %q must be a plain file name", ErrInvalidConfig, c.Airfoil)
	case len(c.Reynolds) == 0:
		return fmt.Errorf("%w: at least one Reynolds number is required", ErrInvalidConfig)
	case !(c.AspectRatio > 0):
		return fmt.Errorf("%w: aspect ratio must be positive, got %g", ErrInvalidConfig, c.AspectRatio)
	case !(c.AoAStep > 0):
		return fmt.Errorf("%w: angle step must be positive, got %g", ErrInvalidConfig, c.AoAStep)
	case c.AoAMax < c.AoAMin:
		return fmt.Errorf("%w: angle range [%g, %g] is empty", ErrInvalidConfig, c.AoAMin, c.AoAMax)
	case c.Mach < 0 || c.Mach >= 1:
		return fmt.Errorf("%w: Mach number %g outside [0, 1)", ErrInvalidConfig, c.Mach)
	}
	seen := make(map[float64]bool, len(c.Reynolds))
	for _, re := range c.Reynolds {
		if !(re > 0) {
			return fmt.Errorf("%w: Reynolds number must be positive, got %g", ErrInvalidConfig, re)
		}
		if seen[re] {
			return fmt.Errorf("%w: duplicate Reynolds number %g", ErrInvalidConfig, re)
		}
		seen[re] = true
	}
	return nil
}

// Angles expands the configured angle range, both ends inclusive.
func (c Config) Angles() []float64 {
	n := int(math.Floor((c.AoAMax-c.AoAMin)/c.AoAStep+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		a := c.AoAMin + float64(i)*c.AoAStep
		out[i] = math.Round(a*1e9) / 1e9
	}
	return out
}

// Job returns the solver job for one Reynolds number.
func (c Config) Job(reynolds float64) xfoil.Job {
	return xfoil.Job{
		Airfoil:    c.Airfoil,
		Reynolds:   reynolds,
		Mach:       c.Mach,
		NCrit:      c.NCrit,
		Iterations: c.Iterations,
		Angles:     c.Angles(),
	}
}

// Source supplies the low-angle polar for a solver job.
type Source interface {
	Samples(ctx context.Context, job xfoil.Job) ([]polar.Sample, error)
}

// Result holds the outcome of a run, keyed by Reynolds number.
type Result struct {
	Airfoil  string
	Polars   map[float64]*polar.Table
	Failures map[float64]error
}

// Reynolds returns the Reynolds numbers with a completed polar, ascending.
func (r *Result) Reynolds() []float64 {
	out := make([]float64, 0, len(r.Polars))
	for re := range r.Polars {
		out = append(out, re)
	}
	sort.Float64s(out)
	return out
}
