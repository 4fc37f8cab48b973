// Package chart renders completed polars as a two-panel PNG: lift and drag
// coefficient against angle of attack, one line per Reynolds number.
package chart

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/star/polargen/internal/polar"
)

const (
	width  = 12 * vg.Inch
	height = 6 * vg.Inch
	dpi    = 150
)

// Series is one completed polar to draw.
type Series struct {
	Reynolds float64
	Table    *polar.Table
}

// FileName returns the chart file name for an airfoil.
func FileName(airfoil string) string {
	return airfoil + "_polars.png"
}

// Render draws series side by side as Cl(AoA) and Cd(AoA) and writes a PNG.
func Render(w io.Writer, title string, series []Series) error {
	if len(series) == 0 {
		return fmt.Errorf("no series to plot")
	}

	lift, err := panel(title, polar.Lift, series)
	if err != nil {
		return err
	}
	drag, err := panel(title, polar.Drag, series)
	if err != nil {
		return err
	}

	c := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))
	dc := draw.New(c)

	tiles := draw.Tiles{
		Rows: 1,
		Cols: 2,
		PadX: vg.Millimeter * 4,
		PadY: vg.Millimeter * 4,

		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	plots := [][]*plot.Plot{{lift, drag}}
	canvases := plot.Align(plots, tiles, dc)
	lift.Draw(canvases[0][0])
	drag.Draw(canvases[0][1])

	pngc := vgimg.PngCanvas{Canvas: c}
	if _, err := pngc.WriteTo(w); err != nil {
		return fmt.Errorf("writing png: %w", err)
	}
	return nil
}

// SaveFile renders series to dir/FileName(airfoil) and returns the path.
func SaveFile(dir, airfoil string, series []Series) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(filepath.Base(airfoil)))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating chart: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := Render(bw, airfoil, series); err != nil {
		return "", err
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("writing chart: %w", err)
	}
	return path, f.Close()
}

func panel(title string, c polar.Coefficient, series []Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s", title, c)
	p.X.Label.Text = "AoA [deg]"
	p.Y.Label.Text = c.String()
	p.X.Min, p.X.Max = -180, 180
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, s := range series {
		line, err := plotter.NewLine(s.Table.XY(c))
		if err != nil {
			return nil, fmt.Errorf("Re=%s %s line: %w", polar.FormatReynolds(s.Reynolds), c, err)
		}
		line.LineStyle.Width = vg.Points(1)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add("Re = "+polar.FormatReynolds(s.Reynolds), line)
	}
	return p, nil
}
