// Package hyperloglog implements HyperLogLog cardinality sketches and the
// estimators built on top of them.
//
// A sketch estimates the number of distinct elements in a stream using a
// fixed amount of memory, and two sketches with the same parameters estimate
// the size of the union, intersection and differences of their streams.
//
// This implementation is based on the following ideas:
//
//   - The HyperLogLog++ engineering of Heule, Nunkesser and Hall [1]: 64-bit
//     hashes, linear counting for small cardinalities, and empirical bias
//     correction for the intermediate range.
//   - The improved estimator and the joint maximum-likelihood estimator of
//     Ertl [2] for a smoother single-sketch estimate and tighter
//     intersections.
//   - An explicit representation for small sets, holding one composite code
//     per distinct (index, rank) pair, that converts to a sketch once it
//     would use more memory than the sketch itself.
//
// [1] Heule, Nunkesser, Hall: HyperLogLog in Practice: Algorithmic
//
//	Engineering of a State of The Art Cardinality Estimation Algorithm.
//
// [2] O. Ertl. New cardinality estimation algorithms for HyperLogLog sketches.
//
// Parameters
// ==========
//
// A sketch is described by its precision p (4..18), giving m = 2^p
// registers, and its register width b (4, 5, 6 or 8 bits). Wider registers
// hold larger ranks:
//
//	Width    Max rank          Registers per word
//	-----    --------          ------------------
//	4        15                16
//	5        31                12
//	6        65-p              10 (4 padding bits)
//	8        65-p              8
//
// Both values are fixed for the lifetime of a sketch. Operations across
// sketches with different parameters return ErrParamsMismatch.
//
// Insertion
// =========
//
// Each element is hashed to 64 bits. The p most significant bits select a
// register; the rank is one plus the number of leading zeros of the
// remaining bits. The register keeps the maximum rank it has seen, so
// registers only ever grow, and inserting the same element twice is a
// no-op.
//
// Register Layouts
// ================
//
// The Packed layout (default) stores 64/b registers per uint64 word. The
// Unpacked layout stores one register per byte, which is larger but needs
// no bit manipulation. They are interchangeable: every query returns the
// same answer for both.
//
// Concurrency
// ===========
//
// Sketches are not safe for concurrent mutation. Give each goroutine its own
// sketch and Merge them afterwards; Merge, the joint estimators and
// EstimateUnionMany only read their arguments.
package hyperloglog

import (
	"encoding/binary"
	"iter"
)

// Sketch is a HyperLogLog register array with its hasher and estimator.
type Sketch struct {
	params    Params
	layout    Layout
	hasher    Hasher
	estimator Estimator
	regs      registerStore

	// hist counts registers per value when multiplicities are tracked
	// (see MultiplicitySketch). It is nil otherwise.
	hist []uint32

	cache estimateCache
}

// estimateCache holds the last computed estimate. It is invalidated by any
// register change.
type estimateCache struct {
	value float64
	valid bool
}

// New creates an empty sketch.
func New(cfg Config) (*Sketch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()

	params := MustParams(cfg.Precision, cfg.Width)
	return &Sketch{
		params:    params,
		layout:    cfg.Layout,
		hasher:    cfg.Hasher,
		estimator: cfg.Estimator,
		regs:      newRegisterStore(params, cfg.Layout),
	}, nil
}

// NewDefault creates an empty sketch with DefaultConfig.
func NewDefault() *Sketch {
	s, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return s
}

// Insert adds an element. It reports whether a register changed.
func (s *Sketch) Insert(data []byte) bool {
	return s.InsertHash(s.hasher.Sum64(data))
}

// InsertString adds a string element.
func (s *Sketch) InsertString(v string) bool {
	return s.Insert([]byte(v))
}

// InsertUint64 adds an integer element, hashed as its 8 little-endian bytes.
func (s *Sketch) InsertUint64(v uint64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return s.Insert(buf[:])
}

// InsertHash adds an element that has already been hashed.
func (s *Sketch) InsertHash(hash uint64) bool {
	index, rank := s.params.indexAndRank(hash)
	return s.raise(int(index), rank)
}

// raise sets register i to rank if rank is larger than its current value.
func (s *Sketch) raise(i int, rank uint8) bool {
	current := s.regs.get(i)
	if rank <= current {
		return false
	}

	s.regs.set(i, rank)
	if s.hist != nil {
		s.hist[current]--
		s.hist[rank]++
	}

	// The cached estimate no longer describes the registers.
	s.cache.valid = false
	return true
}

// Merge folds other into s, register by register: s[i] = max(s[i], other[i]).
func (s *Sketch) Merge(other *Sketch) error {
	if err := compatible(s.params, s.hasher, other.params, other.hasher); err != nil {
		return err
	}
	other.regs.each(func(i int, v uint8) {
		if v > 0 {
			s.raise(i, v)
		}
	})
	return nil
}

// Estimate returns the estimated number of distinct elements inserted.
func (s *Sketch) Estimate() float64 {
	if s.cache.valid {
		return s.cache.value
	}

	value := s.estimator.Estimate(s.params, s.histogram())

	s.cache = estimateCache{value: value, valid: true}
	return value
}

// histogram returns the register value counts. When multiplicities are
// tracked the returned slice is the live histogram and must not be modified.
func (s *Sketch) histogram() []uint32 {
	if s.hist != nil {
		return s.hist
	}
	h := make([]uint32, s.params.histogramSize())
	s.regs.each(func(_ int, v uint8) {
		h[v]++
	})
	return h
}

// Histogram returns a copy of the register value counts.
func (s *Sketch) Histogram() []uint32 {
	h := s.histogram()
	if s.hist != nil {
		h = append([]uint32(nil), h...)
	}
	return h
}

// Zeros returns the number of registers that are still zero.
func (s *Sketch) Zeros() int {
	if s.hist != nil {
		return int(s.hist[0])
	}
	zeros := 0
	s.regs.each(func(_ int, v uint8) {
		if v == 0 {
			zeros++
		}
	})
	return zeros
}

// IsEmpty reports whether nothing has been inserted.
func (s *Sketch) IsEmpty() bool { return s.Zeros() == s.params.Registers() }

// Register returns the value of register i.
func (s *Sketch) Register(i int) uint8 { return s.regs.get(i) }

// All iterates over (index, value) for every register in index order. The
// sequence is finite and can be restarted.
func (s *Sketch) All() iter.Seq2[int, uint8] {
	return func(yield func(int, uint8) bool) {
		m := s.params.Registers()
		for i := 0; i < m; i++ {
			if !yield(i, s.regs.get(i)) {
				return
			}
		}
	}
}

func (s *Sketch) Params() Params       { return s.params }
func (s *Sketch) Layout() Layout       { return s.layout }
func (s *Sketch) Hasher() Hasher       { return s.hasher }
func (s *Sketch) Estimator() Estimator { return s.estimator }

// Config returns the configuration the sketch was created with.
func (s *Sketch) Config() Config {
	return Config{
		Precision: s.params.precision,
		Width:     s.params.width,
		Layout:    s.layout,
		Hasher:    s.hasher,
		Estimator: s.estimator,
	}
}

// Clone returns an independent copy of s.
func (s *Sketch) Clone() *Sketch {
	c := *s
	c.regs = s.regs.clone()
	if s.hist != nil {
		c.hist = append([]uint32(nil), s.hist...)
	}
	return &c
}

// Reset zeroes every register.
func (s *Sketch) Reset() {
	s.regs.reset()
	if s.hist != nil {
		clear(s.hist)
		s.hist[0] = uint32(s.params.Registers())
	}
	s.cache = estimateCache{}
}

// Equal reports whether two sketches have the same parameters and register
// values, regardless of layout.
func (s *Sketch) Equal(other *Sketch) bool {
	if s.params != other.params {
		return false
	}
	m := s.params.Registers()
	for i := 0; i < m; i++ {
		if s.regs.get(i) != other.regs.get(i) {
			return false
		}
	}
	return true
}

// RegisterBytes returns the size of the AppendRegisters output.
func (s *Sketch) RegisterBytes() int { return s.regs.byteLen() }

// AppendRegisters appends the raw register storage to dst: little-endian
// uint64 words for the packed layout, one byte per register for the
// unpacked layout. The bytes can be persisted verbatim and restored with
// LoadRegisters on a sketch with the same configuration.
func (s *Sketch) AppendRegisters(dst []byte) []byte {
	return s.regs.appendBytes(dst)
}

// LoadRegisters replaces the registers with data produced by
// AppendRegisters. Invalid data leaves the sketch unchanged and returns an
// error wrapping ErrCorruptRegisters.
func (s *Sketch) LoadRegisters(data []byte) error {
	if err := s.regs.loadBytes(data); err != nil {
		return err
	}
	if s.hist != nil {
		s.rebuildHistogram()
	}
	s.cache = estimateCache{}
	return nil
}

func (s *Sketch) rebuildHistogram() {
	clear(s.hist)
	s.regs.each(func(_ int, v uint8) {
		s.hist[v]++
	})
}
