package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"time"

	"cardinal.lopezb.com/hyperloglog"
)

// CountReader wraps an io.Reader to track the cumulative byte offset, so
// that every problem can be reported with its exact file position.
type CountReader struct {
	r     io.Reader
	count int64
}

func (cr *CountReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

// ReadByte implements io.ByteReader. It checks for data after the checksum.
func (cr *CountReader) ReadByte() (byte, error) {
	var buf [1]byte
	n, err := cr.r.Read(buf[:])
	cr.count += int64(n)
	return buf[0], err
}

// offsetError is a structural problem found at a known file offset.
type offsetError struct {
	offset int64
	msg    string
	err    error
}

func (e *offsetError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("[offset %d] Fatal: %s: %v", e.offset, e.msg, e.err)
	}
	return fmt.Sprintf("[offset %d] Fatal: %s", e.offset, e.msg)
}

func (e *offsetError) Unwrap() error { return e.err }

// die reports a fatal problem at offset. main prints it and exits with
// status 1.
func die(offset int64, msg string, err error) error {
	return &offsetError{offset: offset, msg: msg, err: err}
}

// inspectReport is what a successful verification learned about a file.
type inspectReport struct {
	header      *sketchHeader
	payloadSize uint32
	checksum    uint64
	hasTail     bool
}

// verifySketch streams r through the checksum without decompressing the
// payload, printing progress to w. It stops at the first problem.
func verifySketch(w io.Writer, r io.Reader) (*inspectReport, error) {
	hasher := crc64.New(crcTable)

	// Reads are few and large, so the counter sits directly on r and its
	// count is always the exact file position.
	counter := &CountReader{r: r}

	head := make([]byte, headerSize)
	if _, err := io.ReadFull(counter, head); err != nil {
		return nil, die(counter.count, "Failed to read header", err)
	}
	hdr, err := deserializeHeader(head)
	if err != nil {
		return nil, die(counter.count, "Invalid header", err)
	}
	cfg, err := hdr.config(nil)
	if err != nil {
		return nil, die(counter.count, "Unsupported sketch configuration", err)
	}
	hasher.Write(head)

	cache := fmt.Sprintf("~%d", hdr.cachedCardinality)
	if hdr.cacheInvalid {
		cache = "dirty"
	}
	fmt.Fprintf(w, "[offset %d] Header OK: %s p=%d b=%d hasher=%s cardinality=%s\n",
		counter.count, hdr.encoding, hdr.precision, hdr.width, hyperloglog.HasherName(cfg.Hasher), cache)

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(counter, lenBuf); err != nil {
		return nil, die(counter.count, "Failed reading payload length", err)
	}
	hasher.Write(lenBuf)
	n := binary.LittleEndian.Uint32(lenBuf)
	if int64(n) > int64(maxPayloadSize) {
		return nil, die(counter.count, fmt.Sprintf("Payload length %d exceeds %d", n, maxPayloadSize), nil)
	}

	if _, err := io.CopyN(hasher, counter, int64(n)); err != nil {
		return nil, die(counter.count, "Truncated payload", err)
	}
	fmt.Fprintf(w, "[offset %d] Payload: %d compressed bytes\n", counter.count, n)

	calculated := hasher.Sum64()
	stored := make([]byte, 8)
	if _, err := io.ReadFull(counter, stored); err != nil {
		return nil, die(counter.count, "Failed to read checksum", err)
	}
	storedChecksum := binary.LittleEndian.Uint64(stored)
	if storedChecksum != calculated {
		return nil, die(counter.count, fmt.Sprintf("Checksum MISMATCH: file %016x, calculated %016x", storedChecksum, calculated), errChecksum)
	}
	fmt.Fprintf(w, "[offset %d] Checksum OK (%016x)\n", counter.count, storedChecksum)

	report := &inspectReport{header: hdr, payloadSize: n, checksum: storedChecksum}
	if _, err := counter.ReadByte(); err == nil {
		report.hasTail = true
		fmt.Fprintf(w, "[offset %d] Found trailing data after checksum\n", counter.count-1)
	} else if !errors.Is(err, io.EOF) {
		fmt.Fprintf(w, "[warn] Error checking for tail: %v\n", err)
	}
	return report, nil
}

// handleInspect validates a sketch file. With -v the payload is also decoded and
// the sketch summarized.
func (app *application) handleInspect(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "Decode the payload and summarize the sketch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: inspect [-v] FILE", errUsage)
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fmt.Fprintf(w, "[offset 0] Checking sketch file %s\n", path)
	start := time.Now()

	report, err := verifySketch(w, f)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintf(w, "  Process Time: %v\n", time.Since(start))
	fmt.Fprintf(w, "  Encoding:     %s\n", report.header.encoding)
	fmt.Fprintf(w, "  Payload:      %d bytes\n", report.payloadSize)

	if !*verbose {
		return nil
	}

	h, err := readSketchFile(path, app.estimator)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  Capacity:     %d codes\n", h.Capacity())
	if h.IsExplicit() {
		fmt.Fprintf(w, "  Codes:        %d\n", h.Len())
	} else {
		s := h.ToSketch()
		fmt.Fprintf(w, "  Zeros:        %d of %d registers\n", s.Zeros(), s.Params().Registers())
	}
	fmt.Fprintf(w, "  Estimate:     %.0f\n", h.Estimate())
	return nil
}
