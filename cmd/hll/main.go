// hll builds HyperLogLog sketches from streams of elements, stores them in
// checksummed sketch files, and answers distinct-count questions about them.
//
// Every input line is one element. A sketch file starts as an explicit list
// of hashed elements and switches to a fixed-size register array once that
// list would be larger, so small sets stay near exact and large ones cost at
// most a few kilobytes.
//
// Usage Examples
// ==============
//
// Count the distinct visitors of two days, one sketch per day:
//
//	hll add monday.hll access-monday.log
//	hll add tuesday.hll access-tuesday.log
//
// Append more input to an existing sketch (reads stdin when no input is
// given):
//
//	zcat access-*.gz | hll add monday.hll
//
// Estimate the distinct count of one or more sketches (their union):
//
//	hll count monday.hll tuesday.hll
//
// Estimate union, intersection and differences, optionally with the
// maximum-likelihood estimator:
//
//	hll compare -mle monday.hll tuesday.hll
//
// Combine sketches into one file, and validate a file:
//
//	hll merge -o week.hll monday.hll tuesday.hll
//	hll inspect -v week.hll
//
// Sketch Parameters
// =================
//
// The global flags -p, -b, -hasher, -layout and -estimator describe new
// sketches. Existing sketch files carry their own precision, width and
// hasher, which always win; -estimator applies to every estimate.
//
// Exit Codes
// ==========
//
// 0: The command succeeded.
// 1: Invalid usage, unreadable or corrupted input, or incompatible sketches.

package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"cardinal.lopezb.com/hyperloglog"
)

type config struct {
	precision uint
	width     uint
	hasher    string
	layout    string
	estimator string
	workers   int
	verbose   bool
}

type application struct {
	config    config
	logger    *slog.Logger
	router    *Router
	metrics   *Metrics
	sketch    hyperloglog.Config // configuration of new sketches
	estimator hyperloglog.Estimator
	stdin     io.Reader
}

func main() {
	var cfg config

	flag.UintVar(&cfg.precision, "p", hyperloglog.DefaultPrecision, "Precision of new sketches: 2^p registers (4-18)")
	flag.UintVar(&cfg.width, "b", hyperloglog.DefaultWidth, "Register width of new sketches in bits (4, 5, 6 or 8)")
	flag.StringVar(&cfg.hasher, "hasher", "xxhash", "Hasher of new sketches (xxhash, murmur3, metro, farm)")
	flag.StringVar(&cfg.layout, "layout", "packed", "Register layout of new sketches (packed, unpacked)")
	flag.StringVar(&cfg.estimator, "estimator", "hllpp", "Cardinality estimator (hllpp, ertl)")
	flag.IntVar(&cfg.workers, "workers", 4, "Maximum number of inputs ingested concurrently")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	app, err := newApplication(cfg, logger, os.Stdin)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	out := bufio.NewWriter(os.Stdout)
	start := time.Now()

	err = app.router.Dispatch(app, out, flag.Args())
	if flushErr := out.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		var oe *offsetError
		if errors.As(err, &oe) {
			fmt.Fprintln(os.Stderr, oe)
		} else {
			logger.Error("command failed", "command", flag.Arg(0), "error", err)
		}
		os.Exit(1)
	}

	logger.Debug("command finished",
		"command", flag.Arg(0),
		"elapsed", time.Since(start),
		"files", app.metrics.FilesIngested.Load(),
		"lines", app.metrics.LinesIngested.Load(),
		"bytes", app.metrics.BytesIngested.Load(),
	)
}

// newApplication resolves the named flags into sketch collaborators and
// wires the router.
func newApplication(cfg config, logger *slog.Logger, stdin io.Reader) (*application, error) {
	sketch, err := cfg.sketchConfig()
	if err != nil {
		return nil, err
	}
	if cfg.workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.workers)
	}

	app := &application{
		config:    cfg,
		logger:    logger,
		metrics:   NewMetrics(),
		sketch:    sketch,
		estimator: sketch.Estimator,
		stdin:     stdin,
	}
	app.router = app.commands()
	return app, nil
}

// sketchConfig builds and validates the configuration of new sketches.
func (c config) sketchConfig() (hyperloglog.Config, error) {
	if c.precision > math.MaxUint8 {
		return hyperloglog.Config{}, fmt.Errorf("%w: got %d", hyperloglog.ErrInvalidPrecision, c.precision)
	}
	if c.width > math.MaxUint8 {
		return hyperloglog.Config{}, fmt.Errorf("%w: got %d", hyperloglog.ErrInvalidWidth, c.width)
	}

	hasher, err := hyperloglog.HasherByName(c.hasher)
	if err != nil {
		return hyperloglog.Config{}, err
	}
	layout, err := layoutByName(c.layout)
	if err != nil {
		return hyperloglog.Config{}, err
	}
	est, err := estimatorByName(c.estimator)
	if err != nil {
		return hyperloglog.Config{}, err
	}

	sc := hyperloglog.Config{
		Precision: uint8(c.precision),
		Width:     uint8(c.width),
		Layout:    layout,
		Hasher:    hasher,
		Estimator: est,
	}
	return sc, sc.Validate()
}

func layoutByName(name string) (hyperloglog.Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "packed":
		return hyperloglog.Packed, nil
	case "unpacked":
		return hyperloglog.Unpacked, nil
	default:
		return 0, fmt.Errorf("%w: %q", hyperloglog.ErrInvalidLayout, name)
	}
}

var errUnknownEstimator = errors.New("unknown estimator")

func estimatorByName(name string) (hyperloglog.Estimator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hllpp", "hll++":
		return hyperloglog.HLLPlusPlus{}, nil
	case "ertl":
		return hyperloglog.Ertl{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEstimator, name)
	}
}
