package param

import (
	"math"

	"github.com/strrl/tpcpid/internal/species"
)

type formulaFunc func(params []float64, s species.Species, innerMomentum float64) float64

type formula struct {
	nParams int
	eval    formulaFunc
}

const (
	FormulaBetheBloch = "bethe-bloch-aleph"
	FormulaResolution = "relative-resolution"
	FormulaConstant   = "constant"
	FormulaLinear     = "pol1"
)

var formulas = map[string]formula{
	// p0..p4 ALEPH coefficients, MIP signal, charge exponent
	FormulaBetheBloch: {7, func(p []float64, s species.Species, mom float64) float64 {
		return expectedSignal(p, s, mom)
	}},
	// relative resolution followed by the Bethe-Bloch parameters
	FormulaResolution: {8, func(p []float64, s species.Species, mom float64) float64 {
		return p[0] * expectedSignal(p[1:], s, mom)
	}},
	FormulaConstant: {1, func(p []float64, _ species.Species, _ float64) float64 {
		return p[0]
	}},
	FormulaLinear: {2, func(p []float64, _ species.Species, mom float64) float64 {
		return p[0] + p[1]*mom
	}},
}

// DefaultBetheBloch and DefaultResolution are the reference TPC calibration.
var (
	DefaultBetheBloch = Document{
		Name:    "BetheBloch",
		Kind:    KindSignal,
		Formula: FormulaBetheBloch,
		Params:  []float64{0.0320422, 19.9768, 2.52667e-16, 2.72123, 6.08092, 50, 2.3},
	}
	DefaultResolution = Document{
		Name:    "TPCReso",
		Kind:    KindSigma,
		Formula: FormulaResolution,
		Params:  []float64{0.07, 0.0320422, 19.9768, 2.52667e-16, 2.72123, 6.08092, 50, 2.3},
	}
)

// expectedSignal scales the ALEPH curve at beta*gamma = p*z/m by the MIP
// signal and z^chargeFactor. Non-positive momentum yields NaN.
func expectedSignal(p []float64, s species.Species, innerMomentum float64) float64 {
	if !(innerMomentum > 0) {
		return math.NaN()
	}
	bg := innerMomentum * s.Charge() / s.Mass()
	return p[5] * betheBlochAleph(bg, p[0], p[1], p[2], p[3], p[4]) * math.Pow(s.Charge(), p[6])
}

func betheBlochAleph(bg, kp1, kp2, kp3, kp4, kp5 float64) float64 {
	beta := bg / math.Sqrt(1+bg*bg)
	aa := math.Pow(beta, kp4)
	bb := math.Pow(1/bg, kp5)
	bb = math.Log(kp3 + bb)
	return (kp2 - aa - bb) * kp1 / aa
}
