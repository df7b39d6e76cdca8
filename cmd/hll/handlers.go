package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sync"

	"cardinal.lopezb.com/hyperloglog"
)

// maxLineSize bounds a single input element.
const maxLineSize = 1 << 20

// handleAdd ingests inputs into the sketch file SKETCH, creating it if
// needed. Inputs are read concurrently, one Hybrid per input, and merged
// once all of them are done. "-" or no input reads stdin.
func (app *application) handleAdd(w io.Writer, args []string) error {
	fset := flag.NewFlagSet("add", flag.ContinueOnError)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() < 1 {
		return fmt.Errorf("%w: add SKETCH [INPUT...]", errUsage)
	}

	path := fset.Arg(0)
	inputs := fset.Args()[1:]
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}
	if countStdin(inputs) > 1 {
		return fmt.Errorf("%w: stdin can be read only once", errUsage)
	}

	acc, err := app.loadOrCreate(path)
	if err != nil {
		return err
	}
	cfg := acc.Config()

	var (
		wg      sync.WaitGroup
		limiter = make(chan struct{}, app.config.workers)
		results = make([]*hyperloglog.Hybrid, len(inputs))
		errs    = make([]error, len(inputs))
	)
	for i, input := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter <- struct{}{}
			defer func() { <-limiter }()

			results[i], errs[i] = app.ingest(input, cfg)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	for _, h := range results {
		if err := acc.Merge(h); err != nil {
			return err
		}
	}

	if err := writeSketchFile(path, acc); err != nil {
		return err
	}
	app.logger.Debug("sketch saved", "file", path, "explicit", acc.IsExplicit())

	_, err = fmt.Fprintf(w, "%s: ~%.0f distinct elements\n", path, acc.Estimate())
	return err
}

func countStdin(inputs []string) int {
	n := 0
	for _, in := range inputs {
		if in == "-" {
			n++
		}
	}
	return n
}

// loadOrCreate reads the sketch file at path, or returns an empty Hybrid
// with the configuration of new sketches when the file does not exist.
func (app *application) loadOrCreate(path string) (*hyperloglog.Hybrid, error) {
	h, err := readSketchFile(path, app.estimator)
	if err == nil {
		if h.Params() != mustParams(app.sketch) {
			app.logger.Debug("existing sketch keeps its parameters", "file", path, "params", h.Params())
		}
		return h, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return hyperloglog.NewHybrid(app.sketch)
}

func mustParams(cfg hyperloglog.Config) hyperloglog.Params {
	return hyperloglog.MustParams(cfg.Precision, cfg.Width)
}

// ingest inserts every non-empty line of input into a new Hybrid.
func (app *application) ingest(input string, cfg hyperloglog.Config) (*hyperloglog.Hybrid, error) {
	r := app.stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	h, err := hyperloglog.NewHybrid(cfg)
	if err != nil {
		return nil, err
	}

	var lines, size uint64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		h.Insert(line)
		lines++
		size += uint64(len(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", input, err)
	}

	app.metrics.FilesIngested.Add(1)
	app.metrics.LinesIngested.Add(lines)
	app.metrics.BytesIngested.Add(size)
	app.logger.Debug("input ingested", "input", input, "lines", lines, "estimate", h.Estimate())

	return h, nil
}

// loadAll reads every sketch file and checks that they can be combined.
func (app *application) loadAll(paths []string) ([]*hyperloglog.Hybrid, error) {
	sketches := make([]*hyperloglog.Hybrid, 0, len(paths))
	for _, path := range paths {
		h, err := readSketchFile(path, app.estimator)
		if err != nil {
			return nil, err
		}
		if len(sketches) > 0 {
			if err := compatible(sketches[0], h); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		sketches = append(sketches, h)
	}
	return sketches, nil
}

// compatible reports whether two sketches describe the same hash space.
func compatible(a, b *hyperloglog.Hybrid) error {
	if a.Params() != b.Params() {
		return fmt.Errorf("%w: %s vs %s", hyperloglog.ErrParamsMismatch, a.Params(), b.Params())
	}
	ha, hb := a.Config().Hasher, b.Config().Hasher
	if hyperloglog.TagOf(ha) != hyperloglog.TagOf(hb) {
		return fmt.Errorf("%w: %s vs %s", hyperloglog.ErrHasherMismatch, hyperloglog.HasherName(ha), hyperloglog.HasherName(hb))
	}
	return nil
}

// handleMerge writes the union of the input sketches to -o.
func (app *application) handleMerge(w io.Writer, args []string) error {
	fset := flag.NewFlagSet("merge", flag.ContinueOnError)
	output := fset.String("o", "", "Output sketch file")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *output == "" || fset.NArg() < 1 {
		return fmt.Errorf("%w: merge -o OUTPUT SKETCH...", errUsage)
	}

	sketches, err := app.loadAll(fset.Args())
	if err != nil {
		return err
	}
	acc := sketches[0]
	for _, h := range sketches[1:] {
		if err := acc.Merge(h); err != nil {
			return err
		}
	}

	if err := writeSketchFile(*output, acc); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s: ~%.0f distinct elements\n", *output, acc.Estimate())
	return err
}

// handleCount prints the estimated number of distinct elements across all
// the given sketches. With -each it lists every sketch first.
func (app *application) handleCount(w io.Writer, args []string) error {
	fset := flag.NewFlagSet("count", flag.ContinueOnError)
	each := fset.Bool("each", false, "Print the estimate of every sketch before the total")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() < 1 {
		return fmt.Errorf("%w: count [-each] SKETCH...", errUsage)
	}

	sketches, err := app.loadAll(fset.Args())
	if err != nil {
		return err
	}

	if *each {
		for i, h := range sketches {
			if _, err := fmt.Fprintf(w, "%s\t%.0f\n", fset.Arg(i), h.Estimate()); err != nil {
				return err
			}
		}
	}

	total, err := unionEstimate(sketches)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%.0f\n", total)
	return err
}

// unionEstimate estimates the union of compatible sketches without
// modifying them. Explicit lists are merged exactly while they all fit;
// otherwise the register arrays are folded together.
func unionEstimate(sketches []*hyperloglog.Hybrid) (float64, error) {
	explicit := !slices.ContainsFunc(sketches, func(h *hyperloglog.Hybrid) bool {
		return !h.IsExplicit()
	})
	if explicit {
		acc := sketches[0].Clone()
		for _, h := range sketches[1:] {
			if err := acc.Merge(h); err != nil {
				return 0, err
			}
		}
		return acc.Estimate(), nil
	}

	views := make([]*hyperloglog.Sketch, len(sketches))
	for i, h := range sketches {
		views[i] = h.ToSketch()
	}
	return hyperloglog.EstimateUnionMany(views...)
}

// handleCompare prints the joint estimate of two sketches.
func (app *application) handleCompare(w io.Writer, args []string) error {
	fset := flag.NewFlagSet("compare", flag.ContinueOnError)
	mle := fset.Bool("mle", false, "Refine the estimate with the maximum-likelihood estimator")
	exponent := fset.Int("e", 3, "MLE stops once every gradient is below 10^-e/sqrt(m)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 2 {
		return fmt.Errorf("%w: compare [-mle] [-e N] LEFT RIGHT", errUsage)
	}

	sketches, err := app.loadAll(fset.Args())
	if err != nil {
		return err
	}
	left, right := sketches[0], sketches[1]

	var j hyperloglog.JointEstimate
	if *mle {
		j, err = jointMLE(left, right, *exponent)
	} else {
		j, err = left.EstimateSets(right)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w,
		"left\t%.0f\nright\t%.0f\nunion\t%.0f\nintersection\t%.0f\nleft only\t%.0f\nright only\t%.0f\njaccard\t%.4f\n",
		j.Left, j.Right, j.Union, j.Intersection, j.LeftDifference, j.RightDifference, j.Jaccard())
	return err
}

// jointMLE runs the maximum-likelihood estimator on the sketch views of
// two Hybrids.
func jointMLE(left, right *hyperloglog.Hybrid, exponent int) (hyperloglog.JointEstimate, error) {
	a, err := toMultiplicity(left)
	if err != nil {
		return hyperloglog.JointEstimate{}, err
	}
	b, err := toMultiplicity(right)
	if err != nil {
		return hyperloglog.JointEstimate{}, err
	}
	return a.EstimateJointMLE(b, exponent)
}

func toMultiplicity(h *hyperloglog.Hybrid) (*hyperloglog.MultiplicitySketch, error) {
	s := h.ToSketch()
	m, err := hyperloglog.NewMultiplicity(s.Config())
	if err != nil {
		return nil, err
	}
	if err := m.LoadRegisters(s.AppendRegisters(nil)); err != nil {
		return nil, err
	}
	return m, nil
}
