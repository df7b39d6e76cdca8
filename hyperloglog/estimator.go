package hyperloglog

// Estimator turns a histogram of register values into a cardinality
// estimate. histogram[k] is the number of registers holding value k and
// len(histogram) is MaxRank+1.
//
// Joint estimates (union, intersection) are built by applying the same
// Estimator to the left, right and register-wise maximum histograms, so a
// new flavor only has to implement this one method.
type Estimator interface {
	Estimate(p Params, histogram []uint32) float64
}

// HLLPlusPlus is the estimator of Heule, Nunkesser and Hall, "HyperLogLog in
// Practice". It has three regimes:
//
//  1. Small range: when some registers are zero and linear counting gives a
//     value at or below the precision's threshold, return it as is.
//  2. Intermediate range: when the raw estimate is at most 5m, subtract the
//     interpolated empirical bias.
//  3. Large range: return the raw estimate unchanged. With 64-bit hashes no
//     large range correction is needed.
//
// Registers only grow, so the estimate must never decrease as elements are
// added. Linear counting stays at or below the threshold and the other two
// regimes are floored at it, so leaving the small range cannot lower the
// estimate. The large range is likewise floored at the corrected value of
// the 5m boundary.
type HLLPlusPlus struct{}

func (HLLPlusPlus) Estimate(p Params, histogram []uint32) float64 {
	threshold := p.LinearCountingThreshold()
	if zeros := histogram[0]; zeros > 0 {
		linear := smallCorrections(p.precision)[zeros-1]
		if linear <= threshold {
			return linear
		}
	}

	return max(threshold, biasCorrected(p, p.rawEstimate(histogram)))
}

// biasCorrected applies the intermediate and large range rules to a raw
// estimate. It is non-decreasing in raw.
func biasCorrected(p Params, raw float64) float64 {
	limit := 5 * float64(p.Registers())
	table := biasTableFor(p.precision)
	if raw <= limit {
		return raw - table.bias(raw)
	}
	return max(raw, limit-table.bias(limit))
}

// Ertl is the improved raw estimator of O. Ertl, "New cardinality estimation
// algorithms for HyperLogLog sketches". It needs no bias table or regime
// switch: the sigma and tau series account for zero and saturated registers
// directly, which makes it smooth across the whole range.
type Ertl struct{}

func (Ertl) Estimate(p Params, histogram []uint32) float64 {
	m := float64(p.Registers())
	q := int(p.maxRank) - 1

	z := m * hllTau((m-float64(histogram[q+1]))/m)
	for k := q; k >= 1; k-- {
		z += float64(histogram[k])
		z *= 0.5
	}
	z += m * hllSigma(float64(histogram[0])/m)

	return alphaInf * m * m / z
}
