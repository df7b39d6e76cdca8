package hyperloglog

// JointEstimate bundles the cardinalities of two sets A (left) and B (right)
// and of their combinations.
type JointEstimate struct {
	Left            float64 // |A|
	Right           float64 // |B|
	Union           float64 // |A ∪ B|
	Intersection    float64 // |A ∩ B|
	LeftDifference  float64 // |A \ B|
	RightDifference float64 // |B \ A|
}

// Jaccard returns |A ∩ B| / |A ∪ B|, or 0 when both sets are empty.
func (j JointEstimate) Jaccard() float64 {
	if j.Union <= 0 {
		return 0
	}
	return j.Intersection / j.Union
}

// newJointEstimate derives intersection and differences by
// inclusion-exclusion. The union is clamped into [max(left, right),
// left+right] first so none of the derived values can go negative.
func newJointEstimate(left, right, union float64) JointEstimate {
	union = min(union, left+right)
	union = max(union, left, right)

	return JointEstimate{
		Left:            left,
		Right:           right,
		Union:           union,
		Intersection:    left + right - union,
		LeftDifference:  union - right,
		RightDifference: union - left,
	}
}

// jointHistograms scans both register arrays once and returns the
// histograms of the left registers, the right registers and their
// register-wise maximum.
func jointHistograms(a, b *Sketch) (left, right, union []uint32) {
	size := a.params.histogramSize()
	left = make([]uint32, size)
	right = make([]uint32, size)
	union = make([]uint32, size)

	a.regs.each(func(i int, va uint8) {
		vb := b.regs.get(i)
		left[va]++
		right[vb]++
		union[max(va, vb)]++
	})
	return left, right, union
}

// EstimateSets estimates |A|, |B|, |A ∪ B| and the derived intersection and
// differences with a single pass over both sketches. Left and right come
// from a's estimator applied to each side, so they match a.Estimate() when
// both sketches share an estimator. The result depends only on the register
// contents.
func (s *Sketch) EstimateSets(other *Sketch) (JointEstimate, error) {
	if err := compatible(s.params, s.hasher, other.params, other.hasher); err != nil {
		return JointEstimate{}, err
	}

	left, right, union := jointHistograms(s, other)
	est := s.estimator
	return newJointEstimate(
		est.Estimate(s.params, left),
		est.Estimate(s.params, right),
		est.Estimate(s.params, union),
	), nil
}

// EstimateUnion estimates |A ∪ B|. It never exceeds the sum of the two
// individual estimates.
func (s *Sketch) EstimateUnion(other *Sketch) (float64, error) {
	j, err := s.EstimateSets(other)
	return j.Union, err
}

// EstimateIntersection estimates |A ∩ B| by inclusion-exclusion.
func (s *Sketch) EstimateIntersection(other *Sketch) (float64, error) {
	j, err := s.EstimateSets(other)
	return j.Intersection, err
}

// EstimateJaccard estimates |A ∩ B| / |A ∪ B|.
func (s *Sketch) EstimateJaccard(other *Sketch) (float64, error) {
	j, err := s.EstimateSets(other)
	return j.Jaccard(), err
}

// EstimateUnionMany estimates the cardinality of the union of any number of
// sketches without modifying them. The first sketch's estimator is used.
func EstimateUnionMany(sketches ...*Sketch) (float64, error) {
	if len(sketches) == 0 {
		return 0, nil
	}

	first := sketches[0]
	for _, s := range sketches[1:] {
		if err := compatible(first.params, first.hasher, s.params, s.hasher); err != nil {
			return 0, err
		}
	}
	if len(sketches) == 1 {
		return first.Estimate(), nil
	}

	accPtr := getAccumulator(first.params)
	defer putAccumulator(first.params, accPtr)

	acc := *accPtr
	for _, s := range sketches {
		s.regs.maxInto(acc)
	}

	histogram := make([]uint32, first.params.histogramSize())
	for _, v := range acc {
		histogram[v]++
	}
	return first.estimator.Estimate(first.params, histogram), nil
}
