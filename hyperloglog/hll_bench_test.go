package hyperloglog

import (
	"crypto/rand"
	"fmt"
	"testing"
)

/*
 * Micro-benchmarks for sketches, hybrids and the joint estimators.
 *
 * Run with: go test -bench=. -benchmem ./hyperloglog/
 * Profile with: go test -bench=BenchmarkInsert -cpuprofile=cpu.prof ./hyperloglog/
 */

/*
 * Generates a slice of random byte slices for use in benchmarks.
 * Each element is 16 bytes of cryptographically random data, which ensures
 * a uniform distribution of hash values across the register space.
 */
func generateRandomElements(count int) [][]byte {
	elements := make([][]byte, count)
	for i := 0; i < count; i++ {
		elements[i] = make([]byte, 16)
		_, _ = rand.Read(elements[i])
	}
	return elements
}

func filledSketch(b *testing.B, cfg Config, n int) *Sketch {
	b.Helper()
	s, err := New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	for _, e := range generateRandomElements(n) {
		s.Insert(e)
	}
	return s
}

/*
 * Benchmarks insertion for both register layouts and every width. The
 * packed layout pays for a shift and a mask on every read-modify-write;
 * the unpacked one is a plain byte store.
 */
func BenchmarkInsert(b *testing.B) {
	elements := generateRandomElements(1 << 16)

	for _, layout := range []Layout{Packed, Unpacked} {
		for _, width := range []uint8{4, 5, 6, 8} {
			b.Run(fmt.Sprintf("%s/b=%d", layout, width), func(b *testing.B) {
				s, err := New(Config{Precision: 14, Width: width, Layout: layout})
				if err != nil {
					b.Fatal(err)
				}

				b.ResetTimer()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					s.Insert(elements[i%len(elements)])
				}
			})
		}
	}
}

func BenchmarkInsertMultiplicity(b *testing.B) {
	elements := generateRandomElements(1 << 16)
	s, err := NewMultiplicity(DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Insert(elements[i%len(elements)])
	}
}

/*
 * Benchmarks Estimate with the cache defeated. Every iteration rescans the
 * registers to build a histogram, which is the cost paid after any write.
 */
func BenchmarkEstimate(b *testing.B) {
	for _, est := range []Estimator{HLLPlusPlus{}, Ertl{}} {
		b.Run(fmt.Sprintf("%T", est), func(b *testing.B) {
			s := filledSketch(b, Config{Precision: 14, Width: 6, Estimator: est}, 100000)

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				s.cache.valid = false
				_ = s.Estimate()
			}
		})
	}
}

func BenchmarkEstimateSets(b *testing.B) {
	left := filledSketch(b, DefaultConfig(), 50000)
	right := filledSketch(b, DefaultConfig(), 50000)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := left.EstimateSets(right); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEstimateUnionMany(b *testing.B) {
	sketches := make([]*Sketch, 8)
	for i := range sketches {
		sketches[i] = filledSketch(b, DefaultConfig(), 10000)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := EstimateUnionMany(sketches...); err != nil {
			b.Fatal(err)
		}
	}
}

/*
 * Benchmarks the maximum-likelihood joint estimator. Its cost is bounded by
 * the iteration limit times the number of distinct register values, not by
 * the register count.
 */
func BenchmarkEstimateJointMLE(b *testing.B) {
	cfg := Config{Precision: 12, Width: 6}
	left, err := NewMultiplicity(cfg)
	if err != nil {
		b.Fatal(err)
	}
	right, err := NewMultiplicity(cfg)
	if err != nil {
		b.Fatal(err)
	}
	for i := range uint64(20000) {
		left.InsertUint64(i)
		right.InsertUint64(i + 10000)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := left.EstimateJointMLE(right, 3); err != nil {
			b.Fatal(err)
		}
	}
}

/*
 * Benchmarks Hybrid insertion while it stays explicit. Each insert is a
 * binary search plus, for new codes, a memmove of the tail of the list.
 */
func BenchmarkHybridInsertExplicit(b *testing.B) {
	elements := generateRandomElements(1 << 16)

	b.ResetTimer()
	b.ReportAllocs()

	h, _ := NewHybrid(DefaultConfig())
	for i := 0; i < b.N; i++ {
		h.Insert(elements[i%len(elements)])
		if !h.IsExplicit() {
			b.StopTimer()
			h, _ = NewHybrid(DefaultConfig())
			b.StartTimer()
		}
	}
}
