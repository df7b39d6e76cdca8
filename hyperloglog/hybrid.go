package hyperloglog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrUnsortedCodes is returned when imported composite codes are not
// strictly increasing.
var ErrUnsortedCodes = errors.New("hyperloglog: composite codes must be sorted and unique")

// codeBits is the width of a composite code.
const codeBits = 32

// Hybrid starts as an explicit list of composite codes and converts itself
// into a Sketch once the list would outgrow the sketch.
//
// A composite code packs the top 32-b bits of an element's hash above its
// b-bit rank:
//
//	 31                       b  b-1      0
//	+---------------------------+---------+
//	|  hash >> (32+b)           |  rank   |
//	+---------------------------+---------+
//
// The register index is the top p bits of the code, so the code alone is
// enough to replay the element into a sketch. The list is kept sorted and
// deduplicated; its capacity is the packed size of the equivalent sketch
// divided by the size of one code.
//
// The conversion is one-way. A converted Hybrid answers every query through
// its sketch.
type Hybrid struct {
	params    Params
	layout    Layout
	hasher    Hasher
	estimator Estimator

	codes    []uint32
	capacity int

	sketch *Sketch // nil while explicit
}

// hybridCapacity is the number of codes that fit in the byte size of the
// packed sketch.
func hybridCapacity(p Params) int {
	return p.SizeInBytes() / (codeBits / 8)
}

// NewHybrid creates an empty Hybrid in explicit mode.
func NewHybrid(cfg Config) (*Hybrid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()

	params := MustParams(cfg.Precision, cfg.Width)
	return &Hybrid{
		params:    params,
		layout:    cfg.Layout,
		hasher:    cfg.Hasher,
		estimator: cfg.Estimator,
		codes:     make([]uint32, 0, 8),
		capacity:  hybridCapacity(params),
	}, nil
}

// NewHybridFromCodes restores a Hybrid from the output of Codes. A list
// longer than the capacity is converted immediately.
func NewHybridFromCodes(cfg Config, codes []uint32) (*Hybrid, error) {
	h, err := NewHybrid(cfg)
	if err != nil {
		return nil, err
	}

	for i, code := range codes {
		if i > 0 && code <= codes[i-1] {
			return nil, fmt.Errorf("%w: code %d at position %d", ErrUnsortedCodes, code, i)
		}
		if rank := h.codeRank(code); rank == 0 || rank > h.params.maxRank {
			return nil, fmt.Errorf("%w: code %d holds rank %d", ErrCorruptRegisters, code, rank)
		}
	}

	h.codes = append(h.codes, codes...)
	if len(h.codes) > h.capacity {
		h.convertToSketch()
	}
	return h, nil
}

// NewHybridFromSketch wraps a sketch in a Hybrid that is already converted.
// The Hybrid takes ownership of s.
func NewHybridFromSketch(s *Sketch) *Hybrid {
	return &Hybrid{
		params:    s.params,
		layout:    s.layout,
		hasher:    s.hasher,
		estimator: s.estimator,
		capacity:  hybridCapacity(s.params),
		sketch:    s,
	}
}

// code packs a hash into a composite code.
func (h *Hybrid) code(hash uint64) uint32 {
	_, rank := h.params.indexAndRank(hash)
	prefix := uint32(hash >> (hashBits - codeBits + h.params.width))
	return prefix<<h.params.width | uint32(rank)
}

func (h *Hybrid) codeIndex(code uint32) int {
	return int(code >> (codeBits - h.params.precision))
}

func (h *Hybrid) codeRank(code uint32) uint8 {
	return uint8(code & uint32(h.params.Mask()))
}

// Insert adds an element. It reports whether the state changed.
func (h *Hybrid) Insert(data []byte) bool {
	return h.InsertHash(h.hasher.Sum64(data))
}

// InsertString adds a string element.
func (h *Hybrid) InsertString(v string) bool {
	return h.Insert([]byte(v))
}

// InsertUint64 adds an integer element, hashed as its 8 little-endian bytes.
func (h *Hybrid) InsertUint64(v uint64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return h.Insert(buf[:])
}

// InsertHash adds an element that has already been hashed.
func (h *Hybrid) InsertHash(hash uint64) bool {
	if h.sketch != nil {
		return h.sketch.InsertHash(hash)
	}

	code := h.code(hash)
	i := sort.Search(len(h.codes), func(i int) bool {
		return h.codes[i] >= code
	})
	if i < len(h.codes) && h.codes[i] == code {
		return false
	}

	h.codes = append(h.codes, 0)
	copy(h.codes[i+1:], h.codes[i:])
	h.codes[i] = code

	if len(h.codes) > h.capacity {
		h.convertToSketch()
	}
	return true
}

// convertToSketch replays every code into a fresh sketch and drops the list.
func (h *Hybrid) convertToSketch() {
	s := &Sketch{
		params:    h.params,
		layout:    h.layout,
		hasher:    h.hasher,
		estimator: h.estimator,
		regs:      newRegisterStore(h.params, h.layout),
	}
	for _, code := range h.codes {
		s.raise(h.codeIndex(code), h.codeRank(code))
	}

	h.sketch = s
	h.codes = nil
}

// IsExplicit reports whether h still holds an explicit code list.
func (h *Hybrid) IsExplicit() bool { return h.sketch == nil }

// Capacity is the longest code list h holds before converting.
func (h *Hybrid) Capacity() int { return h.capacity }

// Len returns the number of stored codes, or 0 once converted.
func (h *Hybrid) Len() int { return len(h.codes) }

func (h *Hybrid) Params() Params { return h.params }

// Config returns the configuration h was created with.
func (h *Hybrid) Config() Config {
	return Config{
		Precision: h.params.precision,
		Width:     h.params.width,
		Layout:    h.layout,
		Hasher:    h.hasher,
		Estimator: h.estimator,
	}
}

// Estimate returns the estimated number of distinct elements. In explicit
// mode it is the list length corrected for code collisions.
func (h *Hybrid) Estimate() float64 {
	if h.sketch != nil {
		return h.sketch.Estimate()
	}
	return birthdayTableFor(h.params).correct(len(h.codes))
}

// Codes returns a copy of the explicit code list, or nil once converted.
func (h *Hybrid) Codes() []uint32 {
	if h.sketch != nil {
		return nil
	}
	return append([]uint32(nil), h.codes...)
}

// ToSketch returns the sketch view of h. The result never shares state
// with h.
func (h *Hybrid) ToSketch() *Sketch {
	if h.sketch != nil {
		return h.sketch.Clone()
	}
	c := h.Clone()
	c.convertToSketch()
	return c.sketch
}

// Clone returns an independent copy of h.
func (h *Hybrid) Clone() *Hybrid {
	c := *h
	if h.sketch != nil {
		c.sketch = h.sketch.Clone()
	} else {
		c.codes = append(make([]uint32, 0, len(h.codes)), h.codes...)
	}
	return &c
}

// Merge folds other into h. Two explicit lists are merged as sets of codes;
// otherwise h is converted and other is merged through its sketch view.
func (h *Hybrid) Merge(other *Hybrid) error {
	if err := compatible(h.params, h.hasher, other.params, other.hasher); err != nil {
		return err
	}

	if h.sketch == nil && other.sketch == nil {
		h.codes = unionCodes(h.codes, other.codes)
		if len(h.codes) > h.capacity {
			h.convertToSketch()
		}
		return nil
	}

	if h.sketch == nil {
		h.convertToSketch()
	}
	if other.sketch != nil {
		return h.sketch.Merge(other.sketch)
	}
	for _, code := range other.codes {
		h.sketch.raise(other.codeIndex(code), other.codeRank(code))
	}
	return nil
}

// EstimateSets estimates |A|, |B|, |A ∪ B| and the derived values. When
// both sides are explicit the union is counted exactly on the code lists;
// otherwise both sides are viewed as sketches.
func (h *Hybrid) EstimateSets(other *Hybrid) (JointEstimate, error) {
	if err := compatible(h.params, h.hasher, other.params, other.hasher); err != nil {
		return JointEstimate{}, err
	}

	if h.sketch == nil && other.sketch == nil {
		table := birthdayTableFor(h.params)
		return newJointEstimate(
			table.correct(len(h.codes)),
			table.correct(len(other.codes)),
			table.correct(countUnionCodes(h.codes, other.codes)),
		), nil
	}

	return h.sketchView().EstimateSets(other.sketchView())
}

// sketchView returns the live sketch when converted, or a temporary one.
func (h *Hybrid) sketchView() *Sketch {
	if h.sketch != nil {
		return h.sketch
	}
	return h.ToSketch()
}

// EstimateUnion estimates |A ∪ B|.
func (h *Hybrid) EstimateUnion(other *Hybrid) (float64, error) {
	j, err := h.EstimateSets(other)
	return j.Union, err
}

// EstimateIntersection estimates |A ∩ B|.
func (h *Hybrid) EstimateIntersection(other *Hybrid) (float64, error) {
	j, err := h.EstimateSets(other)
	return j.Intersection, err
}

// EstimateJaccard estimates |A ∩ B| / |A ∪ B|.
func (h *Hybrid) EstimateJaccard(other *Hybrid) (float64, error) {
	j, err := h.EstimateSets(other)
	return j.Jaccard(), err
}

// unionCodes merges two sorted, deduplicated code lists.
func unionCodes(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// countUnionCodes is len(unionCodes(a, b)) without the allocation.
func countUnionCodes(a, b []uint32) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			i++
			j++
		}
		n++
	}
	return n + len(a) - i + len(b) - j
}
