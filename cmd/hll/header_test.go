package main

import (
	"errors"
	"testing"

	"cardinal.lopezb.com/hyperloglog"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		header sketchHeader
	}{
		{
			name:   "Packed with cached cardinality",
			header: sketchHeader{encoding: encodingPacked, precision: 14, width: 6, hasher: hyperloglog.TagXXHash, cachedCardinality: 123456},
		},
		{
			name:   "Unpacked dirty",
			header: sketchHeader{encoding: encodingUnpacked, precision: 4, width: 8, hasher: hyperloglog.TagFarm, cacheInvalid: true},
		},
		{
			name:   "Explicit",
			header: sketchHeader{encoding: encodingExplicit, precision: 18, width: 4, hasher: hyperloglog.TagMetro, cachedCardinality: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.header.serialize()
			if len(data) != headerSize {
				t.Fatalf("serialize() length = %d, want %d", len(data), headerSize)
			}
			if string(data[:4]) != Magic {
				t.Errorf("magic = %q, want %q", data[:4], Magic)
			}

			got, err := deserializeHeader(data)
			if err != nil {
				t.Fatalf("deserializeHeader() error = %v", err)
			}
			if *got != tt.header {
				t.Errorf("deserializeHeader() = %+v, want %+v", *got, tt.header)
			}
		})
	}
}

func TestHeaderDirtyBit(t *testing.T) {
	h := sketchHeader{cachedCardinality: 1<<63 | 42, cacheInvalid: false}
	data := h.serialize()
	if data[15]&0x80 != 0 {
		t.Fatalf("dirty bit set from cardinality MSB, byte 15 = %#x", data[15])
	}

	got, err := deserializeHeader(data)
	if err != nil {
		t.Fatalf("deserializeHeader() error = %v", err)
	}
	if got.cacheInvalid {
		t.Error("cacheInvalid = true, want false")
	}
	if got.cachedCardinality != 42 {
		t.Errorf("cachedCardinality = %d, want 42", got.cachedCardinality)
	}
}

func TestHeaderRejects(t *testing.T) {
	valid := sketchHeader{precision: 14, width: 6, hasher: hyperloglog.TagXXHash}.serialize()

	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "HYLL")

	badEncoding := append([]byte(nil), valid...)
	badEncoding[4] = 3

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Too short", valid[:headerSize-1], errShortHeader},
		{"Bad magic", badMagic, errBadMagic},
		{"Unknown encoding", badEncoding, errUnknownEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := deserializeHeader(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("deserializeHeader() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHeaderConfig(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		h := sketchHeader{encoding: encodingUnpacked, precision: 12, width: 5, hasher: hyperloglog.TagMurmur3}
		cfg, err := h.config(hyperloglog.Ertl{})
		if err != nil {
			t.Fatalf("config() error = %v", err)
		}
		want := hyperloglog.Config{
			Precision: 12,
			Width:     5,
			Layout:    hyperloglog.Unpacked,
			Hasher:    hyperloglog.Murmur3{},
			Estimator: hyperloglog.Ertl{},
		}
		if cfg != want {
			t.Errorf("config() = %+v, want %+v", cfg, want)
		}
	})

	tests := []struct {
		name   string
		header sketchHeader
		want   error
	}{
		{"Precision too high", sketchHeader{precision: 19, width: 6, hasher: hyperloglog.TagXXHash}, hyperloglog.ErrInvalidPrecision},
		{"Width 7", sketchHeader{precision: 14, width: 7, hasher: hyperloglog.TagXXHash}, hyperloglog.ErrInvalidWidth},
		{"Custom hasher", sketchHeader{precision: 14, width: 6, hasher: hyperloglog.TagCustom}, hyperloglog.ErrUnknownHasher},
		{"Unknown hasher", sketchHeader{precision: 14, width: 6, hasher: 200}, hyperloglog.ErrUnknownHasher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.header.config(nil); !errors.Is(err, tt.want) {
				t.Errorf("config() error = %v, want %v", err, tt.want)
			}
		})
	}
}
