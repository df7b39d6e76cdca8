package hyperloglog

import "math"

// MultiplicitySketch is a Sketch that keeps a histogram of its register
// values in lockstep with every register change. Zero-register lookups and
// estimates become O(1) in the register count, and the histogram feeds the
// maximum-likelihood joint estimator.
type MultiplicitySketch struct {
	*Sketch
}

// NewMultiplicity creates an empty sketch that tracks register multiplicities.
func NewMultiplicity(cfg Config) (*MultiplicitySketch, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	s.hist = make([]uint32, s.params.histogramSize())
	s.hist[0] = uint32(s.params.Registers())
	return &MultiplicitySketch{Sketch: s}, nil
}

// Multiplicities returns a copy of the register value histogram.
func (s *MultiplicitySketch) Multiplicities() []uint32 {
	return append([]uint32(nil), s.hist...)
}

// Clone returns an independent copy of s.
func (s *MultiplicitySketch) Clone() *MultiplicitySketch {
	return &MultiplicitySketch{Sketch: s.Sketch.Clone()}
}

const (
	mleMaxIterations = 10_000

	adamBeta1        = 0.9
	adamBeta2        = 0.999
	adamEpsilon      = 1e-12
	adamLearningRate = 0.1

	// Bounds on the log of every unknown cardinality.
	mleMinLog = -20
	mleMaxLog = hashBits * math.Ln2
)

// jointHistograms5 splits the register pairs of two sketches by which side
// is larger. A register pair (x, y) with x > y counts in leftLarger[x] and
// rightSmaller[y]; with x < y in leftSmaller[x] and rightLarger[y]; with
// x == y in equal[x].
type jointHistograms5 struct {
	leftLarger   []uint32
	leftSmaller  []uint32
	rightLarger  []uint32
	rightSmaller []uint32
	equal        []uint32
}

func newJointHistograms5(a, b *Sketch) jointHistograms5 {
	size := a.params.histogramSize()
	h := jointHistograms5{
		leftLarger:   make([]uint32, size),
		leftSmaller:  make([]uint32, size),
		rightLarger:  make([]uint32, size),
		rightSmaller: make([]uint32, size),
		equal:        make([]uint32, size),
	}

	a.regs.each(func(i int, x uint8) {
		y := b.regs.get(i)
		switch {
		case x > y:
			h.leftLarger[x]++
			h.rightSmaller[y]++
		case x < y:
			h.leftSmaller[x]++
			h.rightLarger[y]++
		default:
			h.equal[x]++
		}
	})
	return h
}

func sum32(h []uint32) int {
	total := 0
	for _, c := range h {
		total += int(c)
	}
	return total
}

// EstimateJointMLE refines the inclusion-exclusion estimate of EstimateSets
// by maximizing the joint likelihood of both register arrays over the three
// unknowns |A \ B|, |B \ A| and |A ∩ B|.
//
// The optimization runs in log space with adaptive-moment (Adam) steps,
// starting from the inclusion-exclusion estimate. It stops when every
// gradient component falls below 10^-errorExponent / sqrt(m), or after
// 10,000 iterations.
func (s *MultiplicitySketch) EstimateJointMLE(other *MultiplicitySketch, errorExponent int) (JointEstimate, error) {
	base, err := s.EstimateSets(other.Sketch)
	if err != nil {
		return JointEstimate{}, err
	}

	m := s.params.Registers()
	h := newJointHistograms5(s.Sketch, other.Sketch)

	// Every register pair has one side strictly below the other, or both
	// are empty: nothing in the registers can come from a shared element.
	if sum32(h.leftSmaller) == m || sum32(h.rightSmaller) == m || h.equal[0] == uint32(m) {
		return JointEstimate{
			Left:            base.Left,
			Right:           base.Right,
			Union:           base.Left + base.Right,
			LeftDifference:  base.Left,
			RightDifference: base.Right,
		}, nil
	}

	solver := newMLESolver(s.params, h)
	theta := [3]float64{
		math.Log(max(base.LeftDifference, 1)),
		math.Log(max(base.RightDifference, 1)),
		math.Log(max(base.Intersection, 1)),
	}
	theta = solver.solve(theta, math.Pow(10, -float64(errorExponent))/math.Sqrt(float64(m)))

	a, b, x := math.Exp(theta[0]), math.Exp(theta[1]), math.Exp(theta[2])
	return JointEstimate{
		Left:            a + x,
		Right:           b + x,
		Union:           a + b + x,
		Intersection:    x,
		LeftDifference:  a,
		RightDifference: b,
	}, nil
}

// mleSolver holds the histograms of a joint MLE problem.
//
// Each register is modelled as the maximum of Poisson-many ranks, so with
// rate lambda per register:
//
//	P(register <= k) = exp(-lambda * 2^-k)   for 0 <= k <= q
//	P(register <= q+1) = 1
//
// where q = MaxRank-1. The left register sees rate a+x, the right one b+x,
// with x shared between them.
type mleSolver struct {
	m     float64
	q     int
	ranks []int // ranks with at least one non-zero bucket
	h     jointHistograms5
}

func newMLESolver(p Params, h jointHistograms5) *mleSolver {
	solver := &mleSolver{
		m: float64(p.Registers()),
		q: int(p.maxRank) - 1,
		h: h,
	}
	for k := range h.equal {
		if h.leftLarger[k]|h.leftSmaller[k]|h.rightLarger[k]|h.rightSmaller[k]|h.equal[k] != 0 {
			solver.ranks = append(solver.ranks, k)
		}
	}
	return solver
}

// solve runs Adam ascent on the log-likelihood from theta and returns the
// final point.
func (sv *mleSolver) solve(theta [3]float64, tolerance float64) [3]float64 {
	var m1, m2 [3]float64
	b1, b2 := 1.0, 1.0

	for t := 1; t <= mleMaxIterations; t++ {
		g := sv.gradient(theta)
		if math.Abs(g[0]) < tolerance && math.Abs(g[1]) < tolerance && math.Abs(g[2]) < tolerance {
			break
		}

		b1 *= adamBeta1
		b2 *= adamBeta2
		lr := adamLearningRate / math.Sqrt(float64(t))

		for j := range theta {
			m1[j] = adamBeta1*m1[j] + (1-adamBeta1)*g[j]
			m2[j] = adamBeta2*m2[j] + (1-adamBeta2)*g[j]*g[j]

			mHat := m1[j] / (1 - b1)
			vHat := m2[j] / (1 - b2)
			theta[j] += lr * mHat / (math.Sqrt(vHat) + adamEpsilon)
			theta[j] = min(max(theta[j], mleMinLog), mleMaxLog)
		}
	}
	return theta
}

// gradient returns the derivative of the log-likelihood with respect to the
// log of each unknown, divided by m.
func (sv *mleSolver) gradient(theta [3]float64) [3]float64 {
	a := math.Exp(theta[0]) / sv.m
	b := math.Exp(theta[1]) / sv.m
	x := math.Exp(theta[2]) / sv.m

	var da, db, dx float64
	for _, k := range sv.ranks {
		if c := sv.h.leftLarger[k]; c != 0 {
			da += float64(c) * sv.rankLogDerivative(a, k)
		}
		if c := sv.h.rightLarger[k]; c != 0 {
			db += float64(c) * sv.rankLogDerivative(b, k)
		}
		if c := sv.h.leftSmaller[k]; c != 0 {
			d := float64(c) * sv.rankLogDerivative(a+x, k)
			da += d
			dx += d
		}
		if c := sv.h.rightSmaller[k]; c != 0 {
			d := float64(c) * sv.rankLogDerivative(b+x, k)
			db += d
			dx += d
		}
		if c := sv.h.equal[k]; c != 0 {
			ea, eb, ex := sv.equalLogDerivative(a, b, x, k)
			da += float64(c) * ea
			db += float64(c) * eb
			dx += float64(c) * ex
		}
	}

	// d/d(log n) = rate * d/d(rate); rates are n/m.
	return [3]float64{a * da / sv.m, b * db / sv.m, x * dx / sv.m}
}

// scale returns 2^-min(k, q), the rate multiplier of rank k.
func (sv *mleSolver) scale(k int) float64 {
	return math.Ldexp(1, -min(k, sv.q))
}

// rankLogDerivative is d/d(lambda) of ln P(register = k) for a single
// register with rate lambda.
func (sv *mleSolver) rankLogDerivative(lambda float64, k int) float64 {
	s := sv.scale(k)
	d := 0.0
	if k <= sv.q {
		d -= s
	}
	if k > 0 {
		d += s / math.Expm1(lambda*s)
	}
	return d
}

// equalLogDerivative is the gradient of ln P(left = right = k) with respect
// to the rates a, b and x.
func (sv *mleSolver) equalLogDerivative(a, b, x float64, k int) (float64, float64, float64) {
	if k == 0 {
		return -1, -1, -1
	}

	//
	// With s = 2^-min(k, q), P = exp(-(a+x)s), Q = exp(-(b+x)s) and
	// R = exp(-(a+b+x)s):
	//
	//	P(left = right = k) = R * B     for k <= q
	//	P(left = right = k) = B         for k = q+1
	//
	// where B = 1 - P - Q + R. B is evaluated as u*v + R*z to avoid the
	// cancellation of the direct form at large k.
	//
	s := sv.scale(k)
	p := math.Exp(-(a + x) * s)
	q := math.Exp(-(b + x) * s)
	r := math.Exp(-(a + b + x) * s)
	u := -math.Expm1(-(a + x) * s)
	v := -math.Expm1(-(b + x) * s)
	z := -math.Expm1(-x * s)

	var da, db, dx float64
	if bb := u*v + r*z; bb > 0 {
		da = s * p * -math.Expm1(-b*s) / bb
		db = s * q * -math.Expm1(-a*s) / bb
		dx = s * (p + q - r) / bb
	}

	if k <= sv.q {
		da -= s
		db -= s
		dx -= s
	}
	return da, db, dx
}
