package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"cardinal.lopezb.com/hyperloglog"
)

const (
	headerSize = 16
	Magic      = "HLLS"
)

// encoding identifies the payload that follows the header.
type encoding uint8

const (
	encodingPacked encoding = iota
	encodingUnpacked
	encodingExplicit
)

func (e encoding) String() string {
	switch e {
	case encodingPacked:
		return "packed"
	case encodingUnpacked:
		return "unpacked"
	case encodingExplicit:
		return "explicit"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

var (
	errShortHeader     = errors.New("invalid sketch file: too short for header")
	errBadMagic        = errors.New("invalid sketch file: magic string not found")
	errUnknownEncoding = errors.New("invalid sketch file: unknown encoding value")
)

type sketchHeader struct {
	encoding          encoding
	precision         uint8
	width             uint8
	hasher            hyperloglog.HasherTag
	cachedCardinality uint64
	cacheInvalid      bool
}

// serialize encodes the header into its 16-byte on-disk representation.
func (h sketchHeader) serialize() []byte {
	//
	// DESIGN
	// ------
	//
	// +------+-----------+-----+----------------------------------+
	// | Bytes| Field     | Size| Notes                            |
	// +------+-----------+-----+----------------------------------+
	// | 0-3  | Magic     | 4   | "HLLS"                           |
	// | 4    | Encoding  | 1   | 0 packed, 1 unpacked, 2 explicit |
	// | 5    | Precision | 1   | p, 4..18                         |
	// | 6    | Width     | 1   | b, 4/5/6/8                       |
	// | 7    | Hasher    | 1   | hyperloglog.HasherTag            |
	// | 8-15 | Card.     | 8   | Cached cardinality (uint64)      |
	// +------+-----------+-----+----------------------------------+
	//
	// The most significant bit of the cardinality field is the dirty bit:
	// when set, the cached value must not be trusted. A cardinality never
	// reaches 2^63, so the bit is free.
	//

	buffer := make([]byte, headerSize)
	copy(buffer[0:4], Magic)
	buffer[4] = byte(h.encoding)
	buffer[5] = h.precision
	buffer[6] = h.width
	buffer[7] = byte(h.hasher)

	binary.LittleEndian.PutUint64(buffer[8:16], h.cachedCardinality)
	buffer[15] &= 0x7F
	if h.cacheInvalid {
		buffer[15] |= 0x80
	}

	return buffer
}

// deserializeHeader decodes the first 16 bytes of data. Only the framing
// is checked here; whether p, b and the hasher tag form a usable
// configuration is decided by config.
func deserializeHeader(data []byte) (*sketchHeader, error) {
	if len(data) < headerSize {
		return nil, errShortHeader
	}
	if string(data[0:4]) != Magic {
		return nil, errBadMagic
	}

	h := &sketchHeader{
		encoding:  encoding(data[4]),
		precision: data[5],
		width:     data[6],
		hasher:    hyperloglog.HasherTag(data[7]),
	}
	if h.encoding > encodingExplicit {
		return nil, errUnknownEncoding
	}

	raw := binary.LittleEndian.Uint64(data[8:16])
	h.cacheInvalid = raw>>63 == 1
	h.cachedCardinality = raw &^ (uint64(1) << 63)

	return h, nil
}

// config rebuilds the sketch configuration described by the header. The
// estimator is not persisted and is supplied by the caller.
func (h *sketchHeader) config(est hyperloglog.Estimator) (hyperloglog.Config, error) {
	hasher, err := hyperloglog.HasherForTag(h.hasher)
	if err != nil {
		return hyperloglog.Config{}, err
	}
	layout := hyperloglog.Packed
	if h.encoding == encodingUnpacked {
		layout = hyperloglog.Unpacked
	}
	cfg := hyperloglog.Config{
		Precision: h.precision,
		Width:     h.width,
		Layout:    layout,
		Hasher:    hasher,
		Estimator: est,
	}
	if err := cfg.Validate(); err != nil {
		return hyperloglog.Config{}, err
	}
	return cfg, nil
}
