package polar

import "fmt"

// Sample is a single row of an airfoil polar.
type Sample struct {
	AoA float64 `json:"aoa"` // degrees
	Cl  float64 `json:"cl"`
	Cd  float64 `json:"cd"`
}

// Coefficient selects a coefficient column of a Table.
type Coefficient int

const (
	Lift Coefficient = iota
	Drag
)

func (c Coefficient) String() string {
	switch c {
	case Lift:
		return "Cl"
	case Drag:
		return "Cd"
	default:
		return fmt.Sprintf("Coefficient(%d)", int(c))
	}
}

// Table is a polar held as three parallel columns, ordered by ascending angle.
type Table struct {
	AoA []float64 `json:"aoa"`
	Cl  []float64 `json:"cl"`
	Cd  []float64 `json:"cd"`
}

// NewTable returns an empty table with room for n rows.
func NewTable(n int) *Table {
	return &Table{
		AoA: make([]float64, 0, n),
		Cl:  make([]float64, 0, n),
		Cd:  make([]float64, 0, n),
	}
}

// Append adds one row.
func (t *Table) Append(aoa, cl, cd float64) {
	t.AoA = append(t.AoA, aoa)
	t.Cl = append(t.Cl, cl)
	t.Cd = append(t.Cd, cd)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.AoA)
}

// Row returns row i as a Sample.
func (t *Table) Row(i int) Sample {
	return Sample{AoA: t.AoA[i], Cl: t.Cl[i], Cd: t.Cd[i]}
}

// Column returns the coefficient column selected by c.
func (t *Table) Column(c Coefficient) []float64 {
	if c == Drag {
		return t.Cd
	}
	return t.Cl
}

// XY returns a view of the table as (angle, coefficient) pairs.
// The view implements gonum/plot's plotter.XYer.
func (t *Table) XY(c Coefficient) XYView {
	return XYView{x: t.AoA, y: t.Column(c)}
}

// XYView pairs the angle column with one coefficient column.
type XYView struct {
	x, y []float64
}

// Len implements plotter.XYer.
func (v XYView) Len() int { return len(v.x) }

// XY implements plotter.XYer.
func (v XYView) XY(i int) (float64, float64) { return v.x[i], v.y[i] }

// FromSamples builds a table from an ordered slice of samples.
func FromSamples(samples []Sample) *Table {
	t := NewTable(len(samples))
	for _, s := range samples {
		t.Append(s.AoA, s.Cl, s.Cd)
	}
	return t
}
