// Package xfoil runs the XFOIL panel-method solver to produce the low-angle
// polar that the Viterna extrapolation starts from.
//
// A run writes a command script to the solver's stdin inside a private
// working directory, waits for the saved polar file, and parses it. Reports
// are cached on disk so repeated runs with identical inputs skip the solver.
package xfoil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Job describes one solver run: one airfoil at one Reynolds number.
type Job struct {
	Airfoil    string // name of the coordinate file, without the .txt suffix
	Reynolds   float64
	Mach       float64
	NCrit      float64
	Iterations int
	Angles     []float64 // degrees
}

// ValidAirfoilName reports whether name can be used as a coordinate file
// name: a single path element, not "." or "..", and free of line breaks,
// which would split the solver script.
func ValidAirfoilName(name string) bool {
	switch {
	case name == "", name == ".", name == "..":
		return false
	case strings.ContainsAny(name, "/\\\r\n\x00"):
		return false
	}
	return filepath.Base(name) == name
}

// Key returns a stable, filename-safe identifier for the job inputs.
func (j Job) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%d|", j.Airfoil, num(j.Reynolds), num(j.Mach), num(j.NCrit), j.Iterations)
	for _, a := range j.Angles {
		b.WriteString(num(a))
		b.WriteByte(',')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Script builds the XFOIL command sequence for the job. airfoilPath is the
// coordinate file to load and polarFile the accumulation file XFOIL writes.
func Script(j Job, airfoilPath, polarFile string) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}

	line("LOAD " + airfoilPath)
	line("PANE")
	line("OPER")
	line("ITER " + strconv.Itoa(j.Iterations))
	line("VISC " + num(j.Reynolds))
	// Transition amplification factor, then back to OPER.
	line("VPAR")
	line("N " + num(j.NCrit))
	line("")
	line("Mach " + num(j.Mach))
	line("PACC")
	line(polarFile)
	line("")
	for _, a := range j.Angles {
		line("A " + num(a))
	}
	line("PACC")
	line("QUIT")

	return b.String()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
