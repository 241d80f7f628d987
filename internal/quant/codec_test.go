package quant

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/tpcpid/internal/errors"
)

func mustCodec(t *testing.T, min, max, w float64, bits int) *Codec {
	t.Helper()
	c, err := New(min, max, w, bits)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		min  float64
		max  float64
		w    float64
		bits int
	}{
		{"inverted range", 1, -1, 0.1, 8},
		{"empty range", 1, 1, 0.1, 8},
		{"zero width", -1, 1, 0, 8},
		{"negative width", -1, 1, -0.1, 8},
		{"nan min", math.NaN(), 1, 0.1, 8},
		{"fractional bins", -1, 1, 0.3, 8},
		{"too many bins", -10, 10, 0.01, 8},
		{"too few bits", -1, 1, 0.5, 1},
		{"too many bits", -1, 1, 0.5, 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.min, tt.max, tt.w, tt.bits)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfiguration))
		})
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 254, c.NumBins())
	assert.Equal(t, Code(-128), c.Invalid())
	assert.Equal(t, Code(-127), c.Lowest())
	assert.Equal(t, Code(127), c.Highest())
	assert.Equal(t, Code(0), c.Encode(0))
	assert.Equal(t, Meta{Min: -6.35, Max: 6.35, BinWidth: 0.05, Bits: 8, InvalidCode: -128}, c.Meta())
}

func TestRoundTrip(t *testing.T) {
	codecs := []*Codec{
		mustCodec(t, -10, 10, 0.1, 8),
		Default(),
		mustCodec(t, 0, 5, 0.25, 6),
		mustCodec(t, -20, 20, 0.001, 16),
	}

	for _, c := range codecs {
		m := c.Meta()
		steps := 997
		for i := 0; i <= steps; i++ {
			v := m.Min + (m.Max-m.Min)*float64(i)/float64(steps)
			got := c.Decode(c.Encode(v))
			assert.LessOrEqual(t, math.Abs(got-v), m.BinWidth/2+1e-9, "v=%v codec=%+v", v, m)
		}
		assert.Equal(t, m.Min, c.Decode(c.Encode(m.Min)))
		assert.Equal(t, m.Max, c.Decode(c.Encode(m.Max)))
	}
}

func TestSaturation(t *testing.T) {
	c := mustCodec(t, -10, 10, 0.1, 8)

	assert.Equal(t, c.Encode(-10), c.Encode(-10-100))
	assert.Equal(t, c.Encode(10), c.Encode(10+100))
	assert.Equal(t, c.Lowest(), c.Encode(math.Inf(-1)))
	assert.Equal(t, c.Highest(), c.Encode(math.Inf(1)))
	assert.Equal(t, -10.0, c.Decode(c.Encode(-1e9)))
	assert.Equal(t, 10.0, c.Decode(c.Encode(1e9)))
}

func TestEncode_InRangeValue(t *testing.T) {
	c := mustCodec(t, -10, 10, 0.1, 8)
	assert.Equal(t, 200, c.NumBins())

	got := c.Decode(c.Encode(2.345))
	assert.InDelta(t, 2.345, got, 0.05)
}

func TestEncode_FarAboveRange(t *testing.T) {
	c := mustCodec(t, -10, 10, 0.1, 8)

	code := c.Encode(57.0)
	assert.Equal(t, c.Encode(10), code)
	assert.Equal(t, 10.0, c.Decode(code))
}

func TestInvalid(t *testing.T) {
	c := mustCodec(t, -10, 10, 0.1, 8)

	code := c.Encode(math.NaN())
	assert.True(t, c.IsInvalid(code))
	assert.True(t, math.IsNaN(c.Decode(code)))

	for _, v := range []float64{-1e9, -10, 0, 10, 1e9} {
		assert.False(t, c.IsInvalid(c.Encode(v)), "v=%v", v)
	}
	assert.True(t, math.IsNaN(c.Decode(c.Highest()+1)))
}

func TestCodesFitWidth(t *testing.T) {
	for bits := minBits; bits <= 10; bits++ {
		bins := (1 << bits) - 2
		c := mustCodec(t, 0, float64(bins), 1, bits)
		lo, hi := -(1 << (bits - 1)), (1<<(bits-1))-1
		assert.GreaterOrEqual(t, int(c.Invalid()), lo)
		assert.LessOrEqual(t, int(c.Highest()), hi)
		assert.Equal(t, hi, int(c.Highest()))
	}
}
