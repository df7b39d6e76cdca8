package hyperloglog

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MinPrecision and MaxPrecision bound the register-count exponent p.
	MinPrecision = 4
	MaxPrecision = 18

	// DefaultPrecision and DefaultWidth give 16,384 six-bit registers
	// (12KB packed) for a standard error of ~0.81%.
	DefaultPrecision = 14
	DefaultWidth     = 6

	hashBits = 64 // every hasher produces a 64-bit value
	wordBits = 64 // packed registers live in uint64 words
)

var (
	ErrInvalidPrecision = errors.New("hyperloglog: precision must be in [4, 18]")
	ErrInvalidWidth     = errors.New("hyperloglog: register width must be 4, 5, 6 or 8")
	ErrInvalidLayout    = errors.New("hyperloglog: unknown register layout")
	ErrParamsMismatch   = errors.New("hyperloglog: sketches have different parameters")
)

// linearCountingThresholds are the empirical HLL++ cardinalities below which
// linear counting is more accurate than the bias-corrected raw estimate.
// Indexed by precision - MinPrecision.
var linearCountingThresholds = [MaxPrecision - MinPrecision + 1]float64{
	10, 20, 40, 80, 220, 400, 900, 1800, 3100,
	6500, 11500, 20000, 50000, 120000, 350000,
}

// Params is the fixed (precision, width) pair of a sketch together with the
// constants derived from it. Two sketches can be combined only when their
// Params are equal.
type Params struct {
	precision uint8
	width     uint8
	maxRank   uint8
	sentinel  uint64
}

// NewParams validates a (precision, width) pair.
func NewParams(precision, width uint8) (Params, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return Params{}, fmt.Errorf("%w: got %d", ErrInvalidPrecision, precision)
	}
	switch width {
	case 4, 5, 6, 8:
	default:
		return Params{}, fmt.Errorf("%w: got %d", ErrInvalidWidth, width)
	}

	p := Params{precision: precision, width: width}

	// The sentinel bit is OR-ed into the shifted hash so that the leading
	// zero count, plus one, always fits in a register. Narrow registers
	// saturate at 2^b - 1; wide ones at 64 - p + 1.
	if width < 6 {
		saturated := 1<<int(width) - 1
		p.sentinel = uint64(1) << (wordBits - saturated)
		p.maxRank = uint8(saturated)
	} else {
		p.sentinel = uint64(1) << (precision - 1)
		p.maxRank = uint8(hashBits - int(precision) + 1)
	}

	return p, nil
}

// MustParams is like NewParams but panics on an unsupported combination.
func MustParams(precision, width uint8) Params {
	p, err := NewParams(precision, width)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Params) Precision() uint8 { return p.precision }
func (p Params) Width() uint8     { return p.width }

// Registers returns m = 2^p.
func (p Params) Registers() int { return 1 << p.precision }

// Mask is (1 << width) - 1, the bit-field of one packed register.
func (p Params) Mask() uint64 { return uint64(1)<<p.width - 1 }

// MaxRank is the largest value insertion can ever write into a register.
func (p Params) MaxRank() uint8 { return p.maxRank }

// RegistersPerWord is the number of registers packed in one 64-bit word.
func (p Params) RegistersPerWord() int { return wordBits / int(p.width) }

// Words is the number of 64-bit words backing the packed layout.
func (p Params) Words() int {
	rpw := p.RegistersPerWord()
	return (p.Registers() + rpw - 1) / rpw
}

// SizeInBytes is the memory footprint of the packed registers.
func (p Params) SizeInBytes() int { return p.Words() * 8 }

// Alpha is the standard HyperLogLog bias constant for m registers.
func (p Params) Alpha() float64 {
	m := p.Registers()
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1.0 + 1.079/float64(m))
	}
}

// LinearCountingThreshold is the cardinality at or below which the small
// range estimate is returned without consulting the bias table.
func (p Params) LinearCountingThreshold() float64 {
	return linearCountingThresholds[p.precision-MinPrecision]
}

// histogramSize is the length of a register value histogram.
func (p Params) histogramSize() int { return int(p.maxRank) + 1 }

func (p Params) String() string {
	return fmt.Sprintf("p=%d b=%d", p.precision, p.width)
}

// Layout selects how registers are stored. Both layouts answer every query
// identically; Packed is smaller, Unpacked avoids bit manipulation.
type Layout uint8

const (
	Packed Layout = iota
	Unpacked
)

func (l Layout) String() string {
	switch l {
	case Packed:
		return "packed"
	case Unpacked:
		return "unpacked"
	default:
		return fmt.Sprintf("Layout(%d)", uint8(l))
	}
}

// Config describes a sketch. The zero values of Hasher and Estimator select
// XXHash and HLLPlusPlus.
type Config struct {
	Precision uint8
	Width     uint8
	Layout    Layout
	Hasher    Hasher
	Estimator Estimator
}

// DefaultConfig returns p=14, b=6, packed registers, xxhash and the HLL++
// estimator.
func DefaultConfig() Config {
	return Config{
		Precision: DefaultPrecision,
		Width:     DefaultWidth,
		Layout:    Packed,
		Hasher:    XXHash{},
		Estimator: HLLPlusPlus{},
	}
}

// Validate reports whether the configuration can be instantiated.
func (c Config) Validate() error {
	if _, err := NewParams(c.Precision, c.Width); err != nil {
		return err
	}
	if c.Layout != Packed && c.Layout != Unpacked {
		return fmt.Errorf("%w: %d", ErrInvalidLayout, c.Layout)
	}
	return nil
}

// normalize fills in the defaults for nil collaborators.
func (c Config) normalize() Config {
	if c.Hasher == nil {
		c.Hasher = XXHash{}
	}
	if c.Estimator == nil {
		c.Estimator = HLLPlusPlus{}
	}
	return c
}

// alphaInf is the asymptotic bias constant 1/(2 ln 2) used by the Ertl
// estimator.
var alphaInf = 0.5 / math.Ln2
