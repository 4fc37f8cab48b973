package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/star/polargen/internal/polar"
	"github.com/star/polargen/internal/viterna"
	"github.com/star/polargen/internal/xfoil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// lowAngle returns a -10..20° polar whose lift scales with Reynolds number.
func lowAngle(re float64) []polar.Sample {
	scale := 1 + re/1e7
	var out []polar.Sample
	for a := -10; a <= 20; a++ {
		aoa := float64(a)
		cl := 0.1 * aoa * scale
		if aoa > 14 {
			cl = (1.4 - 0.06*(aoa-14)) * scale
		}
		out = append(out, polar.Sample{AoA: aoa, Cl: cl, Cd: 0.007 + 0.0001*aoa*aoa})
	}
	return out
}

func testConfig(reynolds ...float64) Config {
	return Config{
		Airfoil:     "naca0012",
		Mach:        0.05,
		AoAMin:      -10,
		AoAMax:      20,
		AoAStep:     1,
		Reynolds:    reynolds,
		AspectRatio: 6,
		NCrit:       9,
		Iterations:  250,
		Workers:     2,
	}
}

// countingSource wraps a StaticSource and records the jobs it sees.
type countingSource struct {
	StaticSource
	calls atomic.Int32
	angle atomic.Int32
}

func (c *countingSource) Samples(ctx context.Context, job xfoil.Job) ([]polar.Sample, error) {
	c.calls.Add(1)
	c.angle.Store(int32(len(job.Angles)))
	return c.StaticSource.Samples(ctx, job)
}

func TestRunCompletesEveryReynolds(t *testing.T) {
	res := []float64{1e5, 2e5, 5e5, 1e6}
	src := &countingSource{StaticSource: StaticSource{}}
	for _, re := range res {
		src.StaticSource[re] = lowAngle(re)
	}
	store := polar.NewStore()

	out, err := NewRunner(src, store, testLogger()).Run(context.Background(), testConfig(res...))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(out.Polars) != len(res) || len(out.Failures) != 0 {
		t.Fatalf("completed=%d failed=%d, want %d/0", len(out.Polars), len(out.Failures), len(res))
	}
	if got := src.calls.Load(); got != int32(len(res)) {
		t.Errorf("source calls = %d, want %d", got, len(res))
	}
	if got := src.angle.Load(); got != 31 {
		t.Errorf("job angles = %d, want 31", got)
	}

	for _, re := range res {
		tab := out.Polars[re]
		if tab.Len() != 31+viterna.SyntheticPoints {
			t.Errorf("Re=%g: len = %d, want %d", re, tab.Len(), 31+viterna.SyntheticPoints)
		}
		if store.Get("naca0012", re) != tab {
			t.Errorf("Re=%g: table not stored", re)
		}
	}

	got := out.Reynolds()
	for i := range res {
		if got[i] != res[i] {
			t.Fatalf("Reynolds() = %v, want %v", got, res)
		}
	}
}

func TestRunMatchesDirectExtrapolation(t *testing.T) {
	src := StaticSource{3e5: lowAngle(3e5)}
	out, err := NewRunner(src, nil, testLogger()).Run(context.Background(), testConfig(3e5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want, err := viterna.Extrapolate(lowAngle(3e5), 6)
	if err != nil {
		t.Fatalf("Extrapolate failed: %v", err)
	}
	got := out.Polars[3e5]
	for i := range want.AoA {
		if got.Row(i) != want.Row(i) {
			t.Fatalf("row %d = %+v, want %+v", i, got.Row(i), want.Row(i))
		}
	}
}

func TestRunPartialFailure(t *testing.T) {
	bad := lowAngle(2e5)
	bad[len(bad)-1].AoA = 30 // stall beyond the post-stall start

	src := StaticSource{1e5: lowAngle(1e5), 2e5: bad}
	out, err := NewRunner(src, nil, testLogger()).Run(context.Background(), testConfig(1e5, 2e5, 3e5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := out.Polars[1e5]; !ok {
		t.Error("Re=1e5 should complete")
	}
	if err := out.Failures[2e5]; !errors.Is(err, viterna.ErrOverlap) {
		t.Errorf("Re=2e5 failure = %v, want ErrOverlap", err)
	}
	if out.Failures[3e5] == nil {
		t.Error("Re=3e5 has no samples and should fail")
	}
}

func TestRunAllFail(t *testing.T) {
	out, err := NewRunner(StaticSource{}, nil, testLogger()).Run(context.Background(), testConfig(1e5, 2e5))
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("err = %v, want ErrNoResults", err)
	}
	if out == nil || len(out.Failures) != 2 {
		t.Fatalf("expected both failures reported, got %+v", out)
	}
}

func TestRunCancelled(t *testing.T) {
	src := StaticSource{}
	var res []float64
	for i := 1; i <= 50; i++ {
		re := float64(i) * 1e5
		src[re] = lowAngle(re)
		res = append(res, re)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NewRunner(src, nil, testLogger()).Run(ctx, testConfig(res...))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(out.Polars) >= len(res) {
		t.Errorf("expected fewer results with cancelled context, got %d/%d", len(out.Polars), len(res))
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no airfoil", func(c *Config) { c.Airfoil = "" }},
		{"airfoil outside airfoil dir", func(c *Config) { c.Airfoil = "../secret" }},
		{"airfoil in subdirectory", func(c *Config) { c.Airfoil = "naca/0012" }},
		{"absolute airfoil path", func(c *Config) { c.Airfoil = "/etc/passwd" }},
		{"dot-dot airfoil", func(c *Config) { c.Airfoil = ".." }},
		{"airfoil with newline", func(c *Config) { c.Airfoil = "naca0012\nQUIT" }},
		{"no reynolds", func(c *Config) { c.Reynolds = nil }},
		{"negative reynolds", func(c *Config) { c.Reynolds = []float64{-1} }},
		{"duplicate reynolds", func(c *Config) { c.Reynolds = []float64{1e5, 1e5} }},
		{"zero aspect ratio", func(c *Config) { c.AspectRatio = 0 }},
		{"zero step", func(c *Config) { c.AoAStep = 0 }},
		{"empty range", func(c *Config) { c.AoAMin, c.AoAMax = 5, 0 }},
		{"supersonic", func(c *Config) { c.Mach = 1.2 }},
	}

	if err := testConfig(1e5).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(1e5)
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigAngles(t *testing.T) {
	tests := []struct {
		min, max, step float64
		want           []float64
	}{
		{-10, 20, 1, nil},
		{0, 1, 0.25, []float64{0, 0.25, 0.5, 0.75, 1}},
		{0, 0.3, 0.1, []float64{0, 0.1, 0.2, 0.3}},
		{5, 5, 1, []float64{5}},
	}
	for _, tt := range tests {
		cfg := Config{AoAMin: tt.min, AoAMax: tt.max, AoAStep: tt.step}
		got := cfg.Angles()
		if tt.want == nil {
			if len(got) != 31 || got[0] != -10 || got[30] != 20 {
				t.Errorf("Angles(-10,20,1) = %v", got)
			}
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("Angles(%g,%g,%g) = %v, want %v", tt.min, tt.max, tt.step, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Angles(%g,%g,%g) = %v, want %v", tt.min, tt.max, tt.step, got, tt.want)
				break
			}
		}
	}
}
