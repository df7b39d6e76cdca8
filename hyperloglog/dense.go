package hyperloglog

import (
	"fmt"
)

// unpackedRegisters stores one register per byte. It trades (8-b)/8 of the
// memory for plain byte loads and stores: no shifting, no masking, and a
// merge loop the compiler can vectorize.
type unpackedRegisters struct {
	data     []byte
	maxValue uint8
}

func newUnpackedRegisters(p Params) *unpackedRegisters {
	return &unpackedRegisters{
		data:     make([]byte, p.Registers()),
		maxValue: p.maxRank,
	}
}

func (r *unpackedRegisters) get(i int) uint8 { return r.data[i] }

func (r *unpackedRegisters) set(i int, v uint8) {
	if v > r.maxValue {
		panic(fmt.Sprintf("hyperloglog: register write out of range: index=%d value=%d", i, v))
	}
	r.data[i] = v
}

func (r *unpackedRegisters) each(fn func(i int, v uint8)) {
	for i, v := range r.data {
		fn(i, v)
	}
}

func (r *unpackedRegisters) maxInto(acc []uint8) {
	data := r.data

	// BCE hint: one bounds check for the whole loop.
	_ = acc[len(data)-1]

	for i, v := range data {
		if v > acc[i] {
			acc[i] = v
		}
	}
}

func (r *unpackedRegisters) appendBytes(dst []byte) []byte {
	return append(dst, r.data...)
}

func (r *unpackedRegisters) loadBytes(src []byte) error {
	if len(src) != len(r.data) {
		return fmt.Errorf("%w: unpacked registers need %d bytes, got %d", ErrCorruptRegisters, len(r.data), len(src))
	}
	for i, v := range src {
		if v > r.maxValue {
			return fmt.Errorf("%w: register %d holds rank %d above %d", ErrCorruptRegisters, i, v, r.maxValue)
		}
	}
	copy(r.data, src)
	return nil
}

func (r *unpackedRegisters) byteLen() int { return len(r.data) }

func (r *unpackedRegisters) clone() registerStore {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &unpackedRegisters{data: data, maxValue: r.maxValue}
}

func (r *unpackedRegisters) reset() { clear(r.data) }

// checkPadding is trivially satisfied: every byte is a real register.
func (r *unpackedRegisters) checkPadding() error { return nil }
