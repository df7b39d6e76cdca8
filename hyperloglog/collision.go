package hyperloglog

import (
	"math"
	"sort"
	"sync"
)

// Birthday tables
// ===============
//
// A Hybrid in explicit mode keeps one composite code per element, and two
// distinct elements collide when their codes are equal. Codes carry 32-b
// hash bits, so with N = 2^(32-b) equally likely codes, n elements are
// expected to produce
//
//	D(n) = N * (1 - (1 - 1/N)^n)
//
// distinct codes. Inverting gives the cardinality behind D stored codes:
//
//	n(D) = log(1 - D/N) / log(1 - 1/N)
//
// Each (precision, width) pair gets a table of breakpoints (D, n(D)/D - 1)
// over [1, capacity], built on first use. A lookup finds the bracketing
// breakpoints by binary search and interpolates the relative error.

// birthdayTablePoints is the maximum number of breakpoints per table.
const birthdayTablePoints = 64

type birthdayTable struct {
	lengths        []float64
	relativeErrors []float64
}

var (
	birthdayTables    [MaxPrecision + 1][len(widthSlots)]*birthdayTable
	birthdayTableOnce [MaxPrecision + 1][len(widthSlots)]sync.Once
)

// widthSlots maps a supported register width to a table column.
var widthSlots = [...]uint8{4, 5, 6, 8}

func widthSlot(width uint8) int {
	for i, w := range widthSlots {
		if w == width {
			return i
		}
	}
	panic("hyperloglog: unsupported register width")
}

func birthdayTableFor(p Params) *birthdayTable {
	slot := widthSlot(p.width)
	birthdayTableOnce[p.precision][slot].Do(func() {
		birthdayTables[p.precision][slot] = buildBirthdayTable(p)
	})
	return birthdayTables[p.precision][slot]
}

func buildBirthdayTable(p Params) *birthdayTable {
	space := math.Ldexp(1, codeBits-int(p.width))
	capacity := hybridCapacity(p)

	t := &birthdayTable{}
	last := 0
	for i := 0; i < birthdayTablePoints; i++ {
		// Geometric spacing from 1 to capacity; collisions matter most at
		// the top of the range.
		frac := float64(i) / float64(birthdayTablePoints-1)
		d := int(math.Round(math.Pow(float64(capacity), frac)))
		if d <= last {
			continue
		}
		last = d

		n := math.Log1p(-float64(d)/space) / math.Log1p(-1/space)
		t.lengths = append(t.lengths, float64(d))
		t.relativeErrors = append(t.relativeErrors, n/float64(d)-1)
	}
	return t
}

// correct returns the estimated number of distinct elements behind length
// stored codes.
func (t *birthdayTable) correct(length int) float64 {
	if length == 0 {
		return 0
	}

	d := float64(length)
	i := sort.SearchFloat64s(t.lengths, d)

	var relErr float64
	switch {
	case i == 0:
		relErr = t.relativeErrors[0]
	case i == len(t.lengths):
		relErr = t.relativeErrors[i-1]
	case t.lengths[i] == d:
		relErr = t.relativeErrors[i]
	default:
		lo, hi := t.lengths[i-1], t.lengths[i]
		frac := (d - lo) / (hi - lo)
		relErr = t.relativeErrors[i-1] + frac*(t.relativeErrors[i]-t.relativeErrors[i-1])
	}

	return d * (1 + relErr)
}
