package hyperloglog

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
)

// hllSigma and hllTau are the series of O. Ertl, "New cardinality
// estimation algorithms for HyperLogLog sketches" (2017), section 4.
// Both are summed until the next term no longer changes the result.

// hllSigma carries the registers that are still zero:
//
//	sigma(x) = x + sum_{k>=1} x^(2^k) * 2^(k-1)
func hllSigma(x float64) float64 {
	if x == 1 {
		return math.Inf(1)
	}

	sum, weight := x, 1.0
	for {
		x *= x
		next := sum + x*weight
		if next == sum {
			return sum
		}
		sum = next
		weight *= 2
	}
}

// hllTau carries the registers that have saturated at the maximum rank:
//
//	tau(x) = (1 - x - sum_{k>=1} (1 - x^(2^-k))^2 * 2^-k) / 3
func hllTau(x float64) float64 {
	if x == 0 || x == 1 {
		return 0
	}

	sum, weight := 1-x, 1.0
	for {
		x = math.Sqrt(x)
		weight /= 2
		next := sum - (1-x)*(1-x)*weight
		if next == sum {
			return sum / 3
		}
		sum = next
	}
}

// indexAndRank splits a 64-bit hash into a register index and a rank.
func (p Params) indexAndRank(hash uint64) (index uint32, rank uint8) {
	//
	// DESIGN
	// ------
	//
	// The p most significant bits select one of the m registers. The
	// remaining 64-p bits are shifted to the top of the word and the rank is
	// the position of their first set bit, counted from the most significant
	// end, plus one.
	//
	// Before counting we OR in the sentinel bit computed by NewParams. It
	// caps the leading-zero count so that the rank never exceeds MaxRank:
	// at bit 64-(2^b-1) for 4 and 5 bit registers, and at bit p-1 (the
	// first bit shifted in from the right) for wider registers. It also
	// guarantees the remainder is never zero.
	//
	index = uint32(hash >> (hashBits - p.precision))
	remainder := hash<<p.precision | p.sentinel
	rank = uint8(bits.LeadingZeros64(remainder)) + 1

	if debugAssertions && (rank > p.maxRank || int(index) >= p.Registers()) {
		panic(fmt.Sprintf("hyperloglog: invalid derivation: index=%d rank=%d for %s", index, rank, p))
	}

	return index, rank
}

// rawEstimate is alpha * m^2 / sum(2^-register), computed from a histogram
// of register values.
func (p Params) rawEstimate(histogram []uint32) float64 {
	m := float64(p.Registers())
	sum := 0.0
	for k, count := range histogram {
		if count != 0 {
			sum += float64(count) * math.Ldexp(1, -k)
		}
	}
	return p.Alpha() * m * m / sum
}

// accumulatorPools reuse max-register buffers across EstimateUnionMany
// calls, one pool per precision. We store *[]byte instead of []byte to
// avoid an allocation when the slice header is boxed into an interface.
var accumulatorPools [MaxPrecision + 1]sync.Pool

func init() {
	for precision := MinPrecision; precision <= MaxPrecision; precision++ {
		size := 1 << precision
		accumulatorPools[precision].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// getAccumulator returns a zeroed buffer with one byte per register. The
// caller must hand it back with putAccumulator.
func getAccumulator(p Params) *[]byte {
	ptr := accumulatorPools[p.precision].Get().(*[]byte)
	clear(*ptr)
	return ptr
}

func putAccumulator(p Params, ptr *[]byte) {
	accumulatorPools[p.precision].Put(ptr)
}
