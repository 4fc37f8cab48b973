// Package viterna extends an airfoil polar measured over a modest angle of
// attack range to the full -180°..180° range with the Viterna-Corrigan
// post-stall model.
//
// The last input sample is the stall point. From it and the wing aspect ratio
// the model derives a flat-plate maximum drag and two shape coefficients, then
// generates the post-stall curve up to 180°. The negative half is obtained by
// mirroring exact cubic splines fitted through the positive half: drag is
// symmetric in angle, lift is antisymmetric and damped by 0.7.
package viterna

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/star/polargen/internal/polar"
)

var (
	// ErrInvalidInput is returned for an empty or malformed sample set.
	ErrInvalidInput = errors.New("invalid polar input")

	// ErrDegenerateStall is returned when cos(stall angle) is zero, which
	// makes both shape coefficients divide by zero.
	ErrDegenerateStall = errors.New("degenerate stall angle")

	// ErrOverlap is returned when the input angles reach into the generated
	// post-stall range, so the combined table is no longer strictly increasing.
	ErrOverlap = errors.New("input overlaps post-stall range")
)

const (
	// Asymptotic flat-plate drag: CDmax = cdMaxBase + cdMaxPerAR*AR.
	cdMaxBase  = 1.11
	cdMaxPerAR = 0.018

	// Lift damping applied beyond 90° and on the negative sweep.
	liftDamping = 0.7

	step = 0.25

	branch1Start = 20.25
	branch1End   = 90.0
	branch2Start = 90.25
	branch2End   = 160.0
	negStart     = -180.0
	negEnd       = -10.25

	boundaryNear = 170.0
	boundaryFar  = 180.0

	// |cos(alpha_s)| below this is treated as zero.
	cosEpsilon = 1e-9
)

// Fixed point counts of the generated ranges (inclusive at both ends).
var (
	branch1Len  = gridLen(branch1Start, branch1End)
	branch2Len  = gridLen(branch2Start, branch2End)
	negativeLen = gridLen(negStart, negEnd)
)

// SyntheticPoints is the number of points Extrapolate adds to its input.
var SyntheticPoints = branch1Len + branch2Len + 2 + negativeLen

// Params holds the model coefficients derived from the stall point.
type Params struct {
	CDMax float64
	A2    float64
	B2    float64
}

// CDMax returns the asymptotic maximum drag coefficient for an aspect ratio.
func CDMax(aspectRatio float64) float64 {
	return cdMaxBase + cdMaxPerAR*aspectRatio
}

// Coefficients derives the model parameters from the stall point.
func Coefficients(stall polar.Sample, aspectRatio float64) (Params, error) {
	sinS, cosS := math.Sincos(radians(stall.AoA))
	if math.Abs(cosS) < cosEpsilon {
		return Params{}, fmt.Errorf("%w: cos(%g°) = %g", ErrDegenerateStall, stall.AoA, cosS)
	}

	cdMax := CDMax(aspectRatio)
	return Params{
		CDMax: cdMax,
		A2:    (stall.Cl - cdMax*sinS*cosS) * sinS / (cosS * cosS),
		B2:    (stall.Cd - cdMax*sinS*sinS) / cosS,
	}, nil
}

// Lift returns the pre-90° post-stall lift coefficient at angle a (degrees).
func (p Params) Lift(a float64) float64 {
	s, c := math.Sincos(radians(a))
	return p.CDMax/2*math.Sin(radians(2*a)) + p.A2*c*c/s
}

// Drag returns the post-stall drag coefficient at angle a (degrees).
func (p Params) Drag(a float64) float64 {
	s, c := math.Sincos(radians(a))
	return p.CDMax*s*s + p.B2*c
}

// Extrapolate completes samples to the full -180°..180° range. samples must
// be non-empty, ordered by strictly increasing angle, lie above -10.25° and
// end at the stall point below 20.25°. The returned table holds the negative branch
// (-180°..-10.25°) followed by the input and the generated positive branch
// (..180°).
func Extrapolate(samples []polar.Sample, aspectRatio float64) (*polar.Table, error) {
	if err := validate(samples, aspectRatio); err != nil {
		return nil, err
	}
	if first := samples[0].AoA; first <= negEnd {
		return nil, fmt.Errorf("%w: first angle %g° is not above %g°", ErrOverlap, first, negEnd)
	}

	stall := samples[len(samples)-1]
	p, err := Coefficients(stall, aspectRatio)
	if err != nil {
		return nil, err
	}

	pos := positiveSide(samples, p)
	if i := firstNonIncreasing(pos.AoA); i >= 0 {
		return nil, fmt.Errorf("%w: angle %g° follows %g°", ErrOverlap, pos.AoA[i], pos.AoA[i-1])
	}
	if err := checkFinite(pos); err != nil {
		return nil, err
	}

	var lift, drag interp.NotAKnotCubic
	if err := lift.Fit(pos.AoA, pos.Cl); err != nil {
		return nil, fmt.Errorf("fitting lift curve: %w", err)
	}
	if err := drag.Fit(pos.AoA, pos.Cd); err != nil {
		return nil, fmt.Errorf("fitting drag curve: %w", err)
	}

	out := polar.NewTable(negativeLen + pos.Len())
	for i := 0; i < negativeLen; i++ {
		a := gridAt(negStart, i)
		abs := math.Abs(a)
		out.Append(a, -liftDamping*lift.Predict(abs), drag.Predict(abs))
	}
	out.AoA = append(out.AoA, pos.AoA...)
	out.Cl = append(out.Cl, pos.Cl...)
	out.Cd = append(out.Cd, pos.Cd...)

	if err := checkFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// positiveSide builds the input samples followed by both forward branches
// and the 170°/180° boundary points.
func positiveSide(samples []polar.Sample, p Params) *polar.Table {
	t := polar.NewTable(len(samples) + branch1Len + branch2Len + 2)
	for _, s := range samples {
		t.Append(s.AoA, s.Cl, s.Cd)
	}

	for i := 0; i < branch1Len; i++ {
		a := gridAt(branch1Start, i)
		t.Append(a, p.Lift(a), p.Drag(a))
	}

	for i := 0; i < branch2Len; i++ {
		a := gridAt(branch2Start, i)
		r := 180 - a
		t.Append(a, -liftDamping*p.Lift(r), p.Drag(r))
	}

	lastCl := t.Cl[t.Len()-1]
	lastCd := t.Cd[t.Len()-1]
	farCl := 0.0
	farCd := (lastCd + samples[0].Cd) / 2
	t.Append(boundaryNear, (lastCl+farCl)/2, (lastCd+farCd)/2)
	t.Append(boundaryFar, farCl, farCd)

	return t
}

func validate(samples []polar.Sample, aspectRatio float64) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidInput)
	}
	if !(aspectRatio > 0) || math.IsInf(aspectRatio, 0) {
		return fmt.Errorf("%w: aspect ratio %g", ErrInvalidInput, aspectRatio)
	}
	for i, s := range samples {
		if !finite(s.AoA) || !finite(s.Cl) || !finite(s.Cd) {
			return fmt.Errorf("%w: sample %d is not finite", ErrInvalidInput, i)
		}
		if i > 0 && s.AoA <= samples[i-1].AoA {
			return fmt.Errorf("%w: angles not strictly increasing at sample %d (%g° after %g°)",
				ErrInvalidInput, i, s.AoA, samples[i-1].AoA)
		}
	}
	return nil
}

// checkFinite rejects tables where large inputs overflowed the model.
func checkFinite(t *polar.Table) error {
	for i := 0; i < t.Len(); i++ {
		if !finite(t.Cl[i]) || !finite(t.Cd[i]) {
			return fmt.Errorf("%w: result overflows at %g°", ErrInvalidInput, t.AoA[i])
		}
	}
	return nil
}

// firstNonIncreasing returns the first index i with xs[i] <= xs[i-1], or -1.
func firstNonIncreasing(xs []float64) int {
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return i
		}
	}
	return -1
}

func gridLen(start, end float64) int {
	return int(math.Round((end-start)/step)) + 1
}

// gridAt is exact: step is a power of two.
func gridAt(start float64, i int) float64 {
	return start + float64(i)*step
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
