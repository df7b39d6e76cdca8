package hyperloglog

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCorruptRegisters is returned when imported register data does not
// describe a valid sketch: wrong length, a rank beyond the register range,
// or set padding bits.
var ErrCorruptRegisters = errors.New("hyperloglog: corrupt register data")

// registerStore is the storage strategy behind a Sketch. Implementations
// must be observationally identical for every query.
type registerStore interface {
	get(i int) uint8
	set(i int, v uint8)

	// each visits every register in index order.
	each(fn func(i int, v uint8))

	// maxInto folds the registers into acc with acc[i] = max(acc[i], reg[i]).
	maxInto(acc []uint8)

	appendBytes(dst []byte) []byte
	loadBytes(src []byte) error
	byteLen() int

	clone() registerStore
	reset()

	// checkPadding reports an error if any bit outside the m registers is set.
	checkPadding() error
}

func newRegisterStore(p Params, layout Layout) registerStore {
	if layout == Unpacked {
		return newUnpackedRegisters(p)
	}
	return newPackedRegisters(p)
}

// packedRegisters stores 64/b registers per uint64 word, least significant
// bits first. Bits above registersPerWord*b in every word, and registers
// past m in the last word, are padding and always zero.
type packedRegisters struct {
	words    []uint64
	m        int
	width    uint
	perWord  int
	mask     uint64
	maxValue uint8
}

func newPackedRegisters(p Params) *packedRegisters {
	return &packedRegisters{
		words:    make([]uint64, p.Words()),
		m:        p.Registers(),
		width:    uint(p.width),
		perWord:  p.RegistersPerWord(),
		mask:     p.Mask(),
		maxValue: p.maxRank,
	}
}

// locate returns the word holding register i and the bit offset of its field.
func (r *packedRegisters) locate(i int) (int, uint) {
	return i / r.perWord, uint(i%r.perWord) * r.width
}

func (r *packedRegisters) get(i int) uint8 {
	w, shift := r.locate(i)
	return uint8((r.words[w] >> shift) & r.mask)
}

func (r *packedRegisters) set(i int, v uint8) {
	if v > r.maxValue || i < 0 || i >= r.m {
		// Writing past the field would bleed into the neighbouring register.
		panic(fmt.Sprintf("hyperloglog: register write out of range: index=%d value=%d", i, v))
	}

	w, shift := r.locate(i)
	word := r.words[w]
	word &^= r.mask << shift
	word |= uint64(v) << shift
	r.words[w] = word

	if debugAssertions && w == len(r.words)-1 {
		if err := r.checkPadding(); err != nil {
			panic(err)
		}
	}
}

func (r *packedRegisters) each(fn func(i int, v uint8)) {
	i := 0
	for _, word := range r.words {
		for j := 0; j < r.perWord && i < r.m; j++ {
			fn(i, uint8(word&r.mask))
			word >>= r.width
			i++
		}
	}
}

func (r *packedRegisters) maxInto(acc []uint8) {
	r.each(func(i int, v uint8) {
		if v > acc[i] {
			acc[i] = v
		}
	})
}

func (r *packedRegisters) appendBytes(dst []byte) []byte {
	for _, word := range r.words {
		dst = binary.LittleEndian.AppendUint64(dst, word)
	}
	return dst
}

func (r *packedRegisters) loadBytes(src []byte) error {
	if len(src) != r.byteLen() {
		return fmt.Errorf("%w: packed registers need %d bytes, got %d", ErrCorruptRegisters, r.byteLen(), len(src))
	}

	words := make([]uint64, len(r.words))
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(src[i*8:])
	}

	candidate := &packedRegisters{words: words, m: r.m, width: r.width, perWord: r.perWord, mask: r.mask, maxValue: r.maxValue}
	if err := candidate.checkPadding(); err != nil {
		return err
	}

	var bad error
	candidate.each(func(i int, v uint8) {
		if bad == nil && v > r.maxValue {
			bad = fmt.Errorf("%w: register %d holds rank %d above %d", ErrCorruptRegisters, i, v, r.maxValue)
		}
	})
	if bad != nil {
		return bad
	}

	r.words = words
	return nil
}

func (r *packedRegisters) byteLen() int { return len(r.words) * 8 }

func (r *packedRegisters) clone() registerStore {
	c := *r
	c.words = make([]uint64, len(r.words))
	copy(c.words, r.words)
	return &c
}

func (r *packedRegisters) reset() { clear(r.words) }

func (r *packedRegisters) checkPadding() error {
	used := uint(r.perWord) * r.width
	var fieldMask uint64
	if used < wordBits {
		fieldMask = uint64(1)<<used - 1
	} else {
		fieldMask = ^uint64(0)
	}

	for w, word := range r.words {
		if word&^fieldMask != 0 {
			return fmt.Errorf("%w: padding bits set in word %d", ErrCorruptRegisters, w)
		}
	}

	// Registers past m in the highest word.
	if tail := r.m % r.perWord; tail != 0 {
		last := r.words[len(r.words)-1]
		if last>>(uint(tail)*r.width) != 0 {
			return fmt.Errorf("%w: padding registers set in word %d", ErrCorruptRegisters, len(r.words)-1)
		}
	}

	return nil
}
