package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/star/polargen/internal/batch"
	"github.com/star/polargen/internal/polar"
)

const (
	formatReport = "report"
	formatTable  = "table"
)

func newExtrapolateCmd(logger *slog.Logger) *cobra.Command {
	cfg := loadBatchConfig(logger)
	outDir := "."
	if v := os.Getenv("POLARGEN_OUT_DIR"); v != "" {
		outDir = v
	}
	var inputs []string
	format := formatReport
	headerLines := polar.ReportHeaderLines
	noPlot := false

	cmd := &cobra.Command{
		Use:   "extrapolate",
		Short: "Complete existing polar files without running the solver",
		Long: `Read low-angle polars that were computed earlier, one file per Reynolds
number, and extend each to -180°..180°.

Input files are either solver reports (a fixed-size header followed by
rows whose first three columns are angle, lift and drag) or tables in the
"AoA Cl Cd" format this tool writes.`,
		Example: `  polargen extrapolate --airfoil naca0012 --input 1e5=naca0012_re1e5.pol --input 2e5=naca0012_re2e5.pol`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := loadSources(inputs, format, headerLines, logger)
			if err != nil {
				return err
			}
			cfg.Reynolds = src.Reynolds()

			res, err := batch.NewRunner(src, polar.NewStore(), logger).Run(cmd.Context(), cfg)
			if err != nil && res == nil {
				return err
			}
			if werr := writeOutputs(logger, res, outDir, !noPlot); werr != nil {
				return werr
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Airfoil, "airfoil", cfg.Airfoil, "airfoil name used for output files")
	f.StringArrayVarP(&inputs, "input", "i", nil, "REYNOLDS=PATH of a low-angle polar, repeatable")
	f.StringVar(&format, "format", format, "input format: report or table")
	f.IntVar(&headerLines, "header-lines", headerLines, "header lines to skip in report input")
	f.Float64Var(&cfg.AspectRatio, "aspect-ratio", cfg.AspectRatio, "wing aspect ratio for the post-stall model")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent extrapolations")
	f.StringVarP(&outDir, "out", "o", outDir, "output directory")
	f.BoolVar(&noPlot, "no-plot", noPlot, "skip the PNG chart")
	cmd.MarkFlagRequired("input")

	return cmd
}

// loadSources reads every REYNOLDS=PATH input into a static source.
func loadSources(inputs []string, format string, headerLines int, logger *slog.Logger) (batch.StaticSource, error) {
	if format != formatReport && format != formatTable {
		return nil, fmt.Errorf("unknown input format %q", format)
	}

	src := make(batch.StaticSource, len(inputs))
	for _, in := range inputs {
		reStr, path, ok := strings.Cut(in, "=")
		if !ok {
			return nil, fmt.Errorf("input %q: want REYNOLDS=PATH", in)
		}
		re, err := strconv.ParseFloat(strings.TrimSpace(reStr), 64)
		if err != nil || !(re > 0) {
			return nil, fmt.Errorf("input %q: invalid Reynolds number", in)
		}
		if _, dup := src[re]; dup {
			return nil, fmt.Errorf("input %q: Reynolds number given twice", in)
		}

		samples, err := readSamples(path, format, headerLines, logger)
		if err != nil {
			return nil, err
		}
		logger.Debug("input loaded", "path", path, "reynolds", re, "samples", len(samples))
		src[re] = samples
	}
	return src, nil
}

func readSamples(path, format string, headerLines int, logger *slog.Logger) ([]polar.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if format == formatReport {
		samples, err := polar.ParseReport(f, headerLines, logger)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return samples, nil
	}

	table, err := polar.ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	samples := make([]polar.Sample, table.Len())
	for i := range samples {
		samples[i] = table.Row(i)
	}
	return samples, nil
}
