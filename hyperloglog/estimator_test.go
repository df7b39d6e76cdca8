package hyperloglog

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBiasTable(t *testing.T) {
	for p := uint8(MinPrecision); p <= MaxPrecision; p++ {
		t.Run(fmt.Sprintf("p=%d", p), func(t *testing.T) {
			table := biasTableFor(p)
			require.NotEmpty(t, table.rawEstimates)
			require.Len(t, table.biases, len(table.rawEstimates))

			for i := 1; i < len(table.rawEstimates); i++ {
				require.Greater(t, table.rawEstimates[i], table.rawEstimates[i-1], "keys must increase at %d", i)
			}

			first, last := 0, len(table.rawEstimates)-1

			// The stored edges come back exactly.
			require.Equal(t, table.biases[first], table.bias(table.rawEstimates[first]))
			require.Equal(t, table.biases[last], table.bias(table.rawEstimates[last]))

			// Outside the stored range the edge bias is used, not extrapolated.
			require.Equal(t, table.biases[first], table.bias(table.rawEstimates[first]/2))
			require.Equal(t, table.biases[last], table.bias(table.rawEstimates[last]*2))

			// The same table is returned on every call.
			require.Same(t, table, biasTableFor(p))
		})
	}
}

func TestBiasInterpolation(t *testing.T) {
	table := &biasTable{
		rawEstimates: []float64{10, 20, 40},
		biases:       []float64{5, 3, 1},
	}

	tests := []struct {
		raw  float64
		want float64
	}{
		{5, 5},
		{10, 5},
		{15, 4},
		{20, 3},
		{30, 2},
		{40, 1},
		{100, 1},
	}
	for _, tt := range tests {
		require.InDelta(t, tt.want, table.bias(tt.raw), 1e-12, "bias(%v)", tt.raw)
	}
}

func TestSmallCorrections(t *testing.T) {
	for _, p := range []uint8{4, 10, 14} {
		table := smallCorrections(p)
		m := float64(uint(1) << p)
		require.Len(t, table, int(m))

		// No empty registers left out: all zero means nothing inserted.
		require.Zero(t, table[len(table)-1])
		require.InDelta(t, m*math.Log(m), table[0], 1e-9)

		zeros := min(100, int(m)-1)
		require.InDelta(t, m*math.Log(m/float64(zeros)), table[zeros-1], 1e-9)
	}
}

func TestHLLPlusPlusRegimes(t *testing.T) {
	params := MustParams(14, 6)
	m := params.Registers()
	mf := float64(m)

	t.Run("small range returns linear counting", func(t *testing.T) {
		h := make([]uint32, params.histogramSize())
		h[0] = uint32(m - 100)
		h[1] = 100
		require.Equal(t, smallCorrections(14)[m-101], HLLPlusPlus{}.Estimate(params, h))
	})

	t.Run("intermediate range subtracts the bias", func(t *testing.T) {
		// Every register at 1: no zeros, raw = alpha*m*2.
		h := make([]uint32, params.histogramSize())
		h[1] = uint32(m)
		raw := params.rawEstimate(h)
		require.LessOrEqual(t, raw, 5*mf)
		require.Equal(t, raw-biasTableFor(14).bias(raw), HLLPlusPlus{}.Estimate(params, h))
	})

	t.Run("large range returns the raw estimate", func(t *testing.T) {
		h := make([]uint32, params.histogramSize())
		h[10] = uint32(m)
		raw := params.rawEstimate(h)
		require.Greater(t, raw, 5*mf)
		require.Equal(t, raw, HLLPlusPlus{}.Estimate(params, h))
	})

	t.Run("linear counting above the threshold falls through", func(t *testing.T) {
		// One zero register: linear counting gives m*ln(m), well above
		// the p=14 threshold, so the raw path is taken.
		h := make([]uint32, params.histogramSize())
		h[0] = 1
		h[12] = uint32(m - 1)
		require.Greater(t, smallCorrections(14)[0], params.LinearCountingThreshold())

		raw := params.rawEstimate(h)
		require.Greater(t, raw, 5*mf)
		require.Equal(t, raw, HLLPlusPlus{}.Estimate(params, h))
	})

	t.Run("leaving the small range never goes below the threshold", func(t *testing.T) {
		// The most zero registers for which linear counting is still
		// above the threshold, every other register at 1.
		threshold := params.LinearCountingThreshold()
		zeros := 0
		for v := range m {
			if smallCorrections(14)[v] <= threshold {
				zeros = v
				break
			}
		}
		require.Positive(t, zeros)

		h := make([]uint32, params.histogramSize())
		h[0] = uint32(zeros)
		h[1] = uint32(m - zeros)
		est := HLLPlusPlus{}.Estimate(params, h)
		require.GreaterOrEqual(t, est, threshold)
		require.Equal(t, max(threshold, biasCorrected(params, params.rawEstimate(h))), est)

		// One more zero register is back in the small range, at or below
		// the threshold.
		h[0]++
		h[1]--
		require.LessOrEqual(t, HLLPlusPlus{}.Estimate(params, h), threshold)
	})
}

func TestBiasCorrectedIsMonotone(t *testing.T) {
	for _, p := range []uint8{4, 8, 10, 14, 18} {
		params := MustParams(p, 6)
		limit := 5 * float64(params.Registers())

		prev := math.Inf(-1)
		for i := range 2001 {
			raw := float64(i) * 8 * limit / 2000
			got := biasCorrected(params, raw)
			require.GreaterOrEqual(t, got+1e-9, prev, "p=%d raw=%v", p, raw)
			prev = got
		}
	}
}

func TestErtlEstimator(t *testing.T) {
	params := MustParams(12, 6)
	m := params.Registers()

	t.Run("nearly saturated registers are finite", func(t *testing.T) {
		h := make([]uint32, params.histogramSize())
		h[params.MaxRank()] = uint32(m - 1)
		h[20] = 1
		est := Ertl{}.Estimate(params, h)
		require.False(t, math.IsInf(est, 0))
		require.False(t, math.IsNaN(est))
	})

	t.Run("matches hll++ in the raw range", func(t *testing.T) {
		s, err := New(Config{Precision: 12, Width: 6, Estimator: Ertl{}})
		require.NoError(t, err)
		for i := range uint64(100000) {
			s.InsertUint64(i)
		}
		ertl := s.Estimate()
		hllpp := HLLPlusPlus{}.Estimate(params, s.Histogram())
		require.InDelta(t, 1, ertl/hllpp, 0.02)
	})
}
