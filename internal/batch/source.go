package batch

import (
	"context"
	"fmt"
	"sort"

	"github.com/star/polargen/internal/polar"
	"github.com/star/polargen/internal/xfoil"
)

// StaticSource serves pre-parsed samples by Reynolds number, for polars that
// were computed ahead of time.
type StaticSource map[float64][]polar.Sample

// Samples implements Source.
func (s StaticSource) Samples(ctx context.Context, job xfoil.Job) ([]polar.Sample, error) {
	samples, ok := s[job.Reynolds]
	if !ok {
		return nil, fmt.Errorf("no samples for Re=%s", polar.FormatReynolds(job.Reynolds))
	}
	return samples, nil
}

// Reynolds returns the Reynolds numbers s holds samples for, ascending.
func (s StaticSource) Reynolds() []float64 {
	out := make([]float64, 0, len(s))
	for re := range s {
		out = append(out, re)
	}
	sort.Float64s(out)
	return out
}
