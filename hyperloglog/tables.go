package hyperloglog

import (
	"math"
	"sort"
	"sync"
)

// Bias tables
// ===========
//
// HyperLogLog++ subtracts an empirical bias from raw estimates in the range
// (threshold, 5m]. Each precision has a table of (raw estimate, bias) pairs
// sorted by raw estimate; a lookup interpolates between the two bracketing
// entries and clamps to the edge entries outside the stored range.
//
// The tables are built once per precision, on first use, from the exact
// distribution of a register under Poisson arrivals at rate lambda = n/m:
//
//	P(register <= k) = exp(-lambda * 2^-k)   for 0 <= k <= q
//	P(register <= q+1) = 1
//
// The expected raw estimate alpha*m^2 / sum(2^-register) is taken to second
// order around the mean of the sum, and the bias is that expectation minus
// the true cardinality n. Once built a table is never mutated.

// biasTablePoints is the number of cardinalities sampled in (0, 5m].
const biasTablePoints = 200

type biasTable struct {
	rawEstimates []float64
	biases       []float64
}

var (
	biasTables    [MaxPrecision + 1]*biasTable
	biasTableOnce [MaxPrecision + 1]sync.Once
)

func biasTableFor(precision uint8) *biasTable {
	biasTableOnce[precision].Do(func() {
		biasTables[precision] = buildBiasTable(precision)
	})
	return biasTables[precision]
}

func buildBiasTable(precision uint8) *biasTable {
	m := 1 << precision
	mf := float64(m)
	alpha := MustParams(precision, DefaultWidth).Alpha()
	q := hashBits - int(precision)

	points := min(biasTablePoints, 5*m)
	t := &biasTable{
		rawEstimates: make([]float64, 0, points),
		biases:       make([]float64, 0, points),
	}

	for i := 1; i <= points; i++ {
		n := float64(i) * 5 * mf / float64(points)
		raw := expectedRawEstimate(n/mf, mf, alpha, q)

		// Interpolation needs strictly increasing keys.
		if len(t.rawEstimates) > 0 && raw <= t.rawEstimates[len(t.rawEstimates)-1] {
			continue
		}
		t.rawEstimates = append(t.rawEstimates, raw)
		t.biases = append(t.biases, raw-n)
	}

	return t
}

// expectedRawEstimate approximates E[alpha*m^2 / S] where S is the sum of
// 2^-register over m independent registers with arrival rate lambda.
func expectedRawEstimate(lambda, m, alpha float64, q int) float64 {
	var e1, e2, prev float64
	for k := 0; k <= q+1; k++ {
		cdf := 1.0
		if k <= q {
			cdf = math.Exp(-lambda * math.Ldexp(1, -k))
		}
		mass := cdf - prev
		w := math.Ldexp(1, -k)
		e1 += mass * w
		e2 += mass * w * w
		prev = cdf
	}

	// E[1/S] ~ 1/mu + var/mu^3 with mu = m*e1 and var = m*(e2 - e1^2).
	return alpha * m / e1 * (1 + (e2-e1*e1)/(m*e1*e1))
}

// bias returns the interpolated bias for a raw estimate. Raw estimates that
// fall outside the table use the bias of the nearest edge.
func (t *biasTable) bias(raw float64) float64 {
	i := sort.SearchFloat64s(t.rawEstimates, raw)
	switch {
	case i == 0:
		return t.biases[0]
	case i == len(t.rawEstimates):
		return t.biases[i-1]
	case t.rawEstimates[i] == raw:
		return t.biases[i]
	}

	lo, hi := t.rawEstimates[i-1], t.rawEstimates[i]
	frac := (raw - lo) / (hi - lo)
	return t.biases[i-1] + frac*(t.biases[i]-t.biases[i-1])
}

// Small range correction
// ======================
//
// Linear counting estimates m*ln(m/V) from the number V of zero registers.
// The values depend only on the precision, so each precision gets a table
// indexed by V-1, built on first use.

var (
	smallCorrectionTables [MaxPrecision + 1][]float64
	smallCorrectionOnce   [MaxPrecision + 1]sync.Once
)

func smallCorrections(precision uint8) []float64 {
	smallCorrectionOnce[precision].Do(func() {
		m := 1 << precision
		mf := float64(m)
		table := make([]float64, m)
		for zeros := 1; zeros <= m; zeros++ {
			table[zeros-1] = mf * math.Log(mf/float64(zeros))
		}
		smallCorrectionTables[precision] = table
	})
	return smallCorrectionTables[precision]
}
