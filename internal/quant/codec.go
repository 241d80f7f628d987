// Package quant converts nsigma values to narrow fixed-point codes and back.
//
// A Codec covers [Min, Max] with the numBins+1 grid points Min + k*BinWidth.
// Values outside the range saturate to the nearest end point; this loss is
// deliberate and silent. The most negative value representable in Bits is
// reserved as the Invalid marker and is never produced for a finite input.
package quant

import (
	"math"

	"github.com/strrl/tpcpid/internal/errors"
)

// Code is a quantized value. Only the low Bits of the codec are significant.
type Code int32

const (
	DefaultMin      = -6.35
	DefaultMax      = 6.35
	DefaultBinWidth = 0.05
	DefaultBits     = 8

	minBits = 2
	maxBits = 16
)

// Meta is attached to every produced table so readers can decode it.
type Meta struct {
	Min         float64 `json:"min" yaml:"min"`
	Max         float64 `json:"max" yaml:"max"`
	BinWidth    float64 `json:"bin_width" yaml:"bin_width"`
	Bits        int     `json:"bits" yaml:"bits"`
	InvalidCode Code    `json:"invalid_code" yaml:"invalid_code"`
}

type Codec struct {
	min      float64
	max      float64
	binWidth float64
	bits     int
	numBins  int
	invalid  Code
	lowest   Code
}

// New validates the range and width and returns a codec. The number of grid
// points plus the invalid marker must fit in bits.
func New(min, max, binWidth float64, bits int) (*Codec, error) {
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return nil, errors.Configf("codec range must be finite, got [%v, %v]", min, max)
	}
	if max <= min {
		return nil, errors.Configf("codec max %v must be greater than min %v", max, min)
	}
	if !(binWidth > 0) || math.IsInf(binWidth, 0) {
		return nil, errors.Configf("codec bin width must be positive, got %v", binWidth)
	}
	if bits < minBits || bits > maxBits {
		return nil, errors.Configf("codec bit width must be in [%d, %d], got %d", minBits, maxBits, bits)
	}

	ratio := (max - min) / binWidth
	numBins := math.Round(ratio)
	if numBins < 1 || math.Abs(ratio-numBins) > 1e-6*numBins {
		return nil, errors.Configf("codec range [%v, %v] is not a whole number of %v bins", min, max, binWidth)
	}

	capacity := 1 << bits
	if int(numBins)+2 > capacity {
		return nil, errors.Configf("%d bins do not fit in %d bits (need %d codes, have %d)",
			int(numBins), bits, int(numBins)+2, capacity)
	}

	invalid := Code(-(1 << (bits - 1)))
	return &Codec{
		min:      min,
		max:      max,
		binWidth: binWidth,
		bits:     bits,
		numBins:  int(numBins),
		invalid:  invalid,
		lowest:   invalid + 1,
	}, nil
}

// Default returns the codec of the standard tiny nsigma tables: 254 bins of
// 0.05 over [-6.35, 6.35] stored in a signed byte.
func Default() *Codec {
	c, err := New(DefaultMin, DefaultMax, DefaultBinWidth, DefaultBits)
	if err != nil {
		panic(err)
	}
	return c
}

// Encode maps v to the nearest grid point, saturating outside [Min, Max].
// NaN encodes as Invalid.
func (c *Codec) Encode(v float64) Code {
	if math.IsNaN(v) {
		return c.invalid
	}
	k := math.Round((v - c.min) / c.binWidth)
	if k <= 0 {
		return c.lowest
	}
	if k >= float64(c.numBins) {
		return c.Highest()
	}
	return c.lowest + Code(k)
}

// Decode returns the grid value of code. Invalid and out-of-range codes
// decode to NaN.
func (c *Codec) Decode(code Code) float64 {
	if code < c.lowest || code > c.Highest() {
		return math.NaN()
	}
	k := int(code - c.lowest)
	if k == c.numBins {
		return c.max
	}
	return c.min + float64(k)*c.binWidth
}

// Invalid is the reserved marker for entries whose evaluation failed.
func (c *Codec) Invalid() Code { return c.invalid }

func (c *Codec) IsInvalid(code Code) bool { return code == c.invalid }

// Lowest is the code of Min and of every value below it.
func (c *Codec) Lowest() Code { return c.lowest }

// Highest is the code of Max and of every value above it.
func (c *Codec) Highest() Code { return c.lowest + Code(c.numBins) }

func (c *Codec) NumBins() int { return c.numBins }

func (c *Codec) Bits() int { return c.bits }

func (c *Codec) Meta() Meta {
	return Meta{
		Min:         c.min,
		Max:         c.max,
		BinWidth:    c.binWidth,
		Bits:        c.bits,
		InvalidCode: c.invalid,
	}
}
