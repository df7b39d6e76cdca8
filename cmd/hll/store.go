// Sketch Files
// ============
//
// A sketch file holds one hyperloglog.Hybrid:
//
//	+--------+-------------+-------------------+-----------+
//	| Header | Payload Len | Snappy Payload    | CRC64-ISO |
//	| 16     | 4 (LE)      | Payload Len bytes | 8 (LE)    |
//	+--------+-------------+-------------------+-----------+
//
// The uncompressed payload depends on the encoding byte of the header:
//
//   - packed / unpacked: the raw register storage as produced by
//     Sketch.AppendRegisters for that layout.
//   - explicit: the sorted composite code list, one little-endian uint32
//     per code.
//
// The checksum covers every byte before it, so a flipped bit anywhere in
// the file is caught before the payload is decompressed.

package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"math"
	"os"

	"cardinal.lopezb.com/hyperloglog"
	"github.com/golang/snappy"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// maxPayloadSize bounds the compressed payload of any valid sketch: the
// unpacked layout at the highest precision, after snappy's worst case.
var maxPayloadSize = snappy.MaxEncodedLen(1 << hyperloglog.MaxPrecision)

var (
	errChecksum        = errors.New("invalid sketch file: checksum mismatch")
	errPayloadTooLarge = errors.New("invalid sketch file: payload length out of range")
	errCodeAlignment   = errors.New("invalid sketch file: explicit payload is not a whole number of codes")
	errCustomHasher    = errors.New("sketches with a custom hasher cannot be saved")
)

// encodeSketch writes h in the sketch file format.
func encodeSketch(w io.Writer, h *hyperloglog.Hybrid) error {
	cfg := h.Config()
	tag := hyperloglog.TagOf(cfg.Hasher)
	if tag == hyperloglog.TagCustom {
		return errCustomHasher
	}

	hdr := sketchHeader{
		precision: cfg.Precision,
		width:     cfg.Width,
		hasher:    tag,
	}

	var raw []byte
	if h.IsExplicit() {
		hdr.encoding = encodingExplicit
		raw = make([]byte, 0, 4*h.Len())
		for _, code := range h.Codes() {
			raw = binary.LittleEndian.AppendUint32(raw, code)
		}
	} else {
		s := h.ToSketch()
		hdr.encoding = encodingPacked
		if s.Layout() == hyperloglog.Unpacked {
			hdr.encoding = encodingUnpacked
		}
		raw = s.AppendRegisters(make([]byte, 0, s.RegisterBytes()))
	}

	// Only HLL++ estimates are cached; readers may pick a different
	// estimator, and an Ertl value would be wrong for them.
	if _, ok := cfg.Estimator.(hyperloglog.HLLPlusPlus); ok {
		hdr.cachedCardinality = uint64(math.Round(h.Estimate()))
	} else {
		hdr.cacheInvalid = true
	}

	compressed := snappy.Encode(nil, raw)

	crc := crc64.New(crcTable)
	mw := io.MultiWriter(w, crc)

	if _, err := mw.Write(hdr.serialize()); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := mw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := mw.Write(compressed); err != nil {
		return err
	}

	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], crc.Sum64())
	_, err := w.Write(sum[:])
	return err
}

// decodeSketch reads one sketch written by encodeSketch. est selects the
// estimator of the restored Hybrid.
func decodeSketch(r io.Reader, est hyperloglog.Estimator) (*hyperloglog.Hybrid, error) {
	crc := crc64.New(crcTable)
	tr := io.TeeReader(r, crc)

	head := make([]byte, headerSize)
	if _, err := io.ReadFull(tr, head); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	hdr, err := deserializeHeader(head)
	if err != nil {
		return nil, err
	}
	cfg, err := hdr.config(est)
	if err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(tr, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading payload length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int64(n) > int64(maxPayloadSize) {
		return nil, fmt.Errorf("%w: %d bytes", errPayloadTooLarge, n)
	}

	compressed := make([]byte, n)
	if _, err := io.ReadFull(tr, compressed); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	want := crc.Sum64()
	var sum [8]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, fmt.Errorf("reading checksum: %w", err)
	}
	if got := binary.LittleEndian.Uint64(sum[:]); got != want {
		return nil, fmt.Errorf("%w: stored %016x, computed %016x", errChecksum, got, want)
	}

	// snappy.Decode allocates whatever length the payload claims.
	decodedLen, err := snappy.DecodedLen(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if limit := maxRawSize(cfg); decodedLen > limit {
		return nil, fmt.Errorf("%w: expands to %d bytes, at most %d expected", errPayloadTooLarge, decodedLen, limit)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}

	if hdr.encoding == encodingExplicit {
		if len(raw)%4 != 0 {
			return nil, errCodeAlignment
		}
		codes := make([]uint32, len(raw)/4)
		for i := range codes {
			codes[i] = binary.LittleEndian.Uint32(raw[4*i:])
		}
		return hyperloglog.NewHybridFromCodes(cfg, codes)
	}

	s, err := hyperloglog.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.LoadRegisters(raw); err != nil {
		return nil, err
	}
	return hyperloglog.NewHybridFromSketch(s), nil
}

// maxRawSize is the largest uncompressed payload a sketch with cfg can
// have: its packed registers, one byte per register when unpacked, and an
// explicit list never outgrows the packed size.
func maxRawSize(cfg hyperloglog.Config) int {
	p := hyperloglog.MustParams(cfg.Precision, cfg.Width)
	return max(p.SizeInBytes(), p.Registers())
}

// readSketchFile loads the sketch stored at path.
func readSketchFile(path string, est hyperloglog.Estimator) (*hyperloglog.Hybrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	h, err := decodeSketch(bufio.NewReader(f), est)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// writeSketchFile replaces the file at path with h. The sketch is written to
// a temporary file first and renamed over path, so a failed write never
// leaves a truncated sketch behind.
func writeSketchFile(path string, h *hyperloglog.Hybrid) error {
	tmpName := path + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return err
	}

	var (
		fileClosed    bool
		renameSuccess bool
	)
	defer func() {
		if !fileClosed {
			_ = f.Close()
		}
		if !renameSuccess {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := encodeSketch(bw, h); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fileClosed = true

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	renameSuccess = true
	return nil
}
