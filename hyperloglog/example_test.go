package hyperloglog_test

import (
	"fmt"

	"cardinal.lopezb.com/hyperloglog"
)

func ExampleSketch() {
	s := hyperloglog.NewDefault()
	for _, user := range []string{"ana", "bo", "ana", "cy", "bo"} {
		s.InsertString(user)
	}
	fmt.Printf("%.0f\n", s.Estimate())
	// Output: 3
}

func ExampleSketch_EstimateSets() {
	cfg := hyperloglog.Config{Precision: 14, Width: 6}
	monday, _ := hyperloglog.New(cfg)
	tuesday, _ := hyperloglog.New(cfg)

	for i := range uint64(10000) {
		monday.InsertUint64(i)
		tuesday.InsertUint64(i + 5000)
	}

	j, err := monday.EstimateSets(tuesday)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("union ~%.1fk, both days ~%.0fk\n", j.Union/1000, j.Intersection/1000)
}

func ExampleHybrid() {
	h, _ := hyperloglog.NewHybrid(hyperloglog.DefaultConfig())
	for i := range uint64(500) {
		h.InsertUint64(i)
	}
	fmt.Println(h.IsExplicit(), h.Len() <= h.Capacity())
	// Output: true true
}
