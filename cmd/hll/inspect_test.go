package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardinal.lopezb.com/hyperloglog"
)

func TestVerifySketch(t *testing.T) {
	data := encodeToBytes(t, newTestHybrid(t, hyperloglog.DefaultConfig(), 50000))
	payloadSize := len(data) - headerSize - 4 - 8

	t.Run("Valid", func(t *testing.T) {
		var out bytes.Buffer
		report, err := verifySketch(&out, bytes.NewReader(data))
		if err != nil {
			t.Fatalf("verifySketch() error = %v", err)
		}
		if report.header.encoding != encodingPacked {
			t.Errorf("encoding = %s, want packed", report.header.encoding)
		}
		if int(report.payloadSize) != payloadSize {
			t.Errorf("payloadSize = %d, want %d", report.payloadSize, payloadSize)
		}
		if report.hasTail {
			t.Error("hasTail = true for a clean file")
		}
		for _, want := range []string{"Header OK: packed p=14 b=6 hasher=xxhash", "Checksum OK"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("output missing %q:\n%s", want, out.String())
			}
		}
	})

	t.Run("Trailing data", func(t *testing.T) {
		withTail := append(append([]byte(nil), data...), "garbage"...)
		var out bytes.Buffer
		report, err := verifySketch(&out, bytes.NewReader(withTail))
		if err != nil {
			t.Fatalf("verifySketch() error = %v", err)
		}
		if !report.hasTail {
			t.Error("hasTail = false, want true")
		}
	})

	t.Run("Checksum mismatch", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xFF

		_, err := verifySketch(io.Discard, bytes.NewReader(bad))
		var oe *offsetError
		if !errors.As(err, &oe) {
			t.Fatalf("verifySketch() error = %v, want *offsetError", err)
		}
		if !errors.Is(err, errChecksum) {
			t.Errorf("verifySketch() error = %v, want %v", err, errChecksum)
		}
		if oe.offset != int64(len(data)) {
			t.Errorf("offset = %d, want %d", oe.offset, len(data))
		}
	})

	t.Run("Bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		copy(bad, "LIM1")

		_, err := verifySketch(io.Discard, bytes.NewReader(bad))
		var oe *offsetError
		if !errors.As(err, &oe) {
			t.Fatalf("verifySketch() error = %v, want *offsetError", err)
		}
		if !errors.Is(err, errBadMagic) {
			t.Errorf("verifySketch() error = %v, want %v", err, errBadMagic)
		}
		if oe.offset != headerSize {
			t.Errorf("offset = %d, want %d", oe.offset, headerSize)
		}
	})

	t.Run("Truncated payload", func(t *testing.T) {
		cut := headerSize + 4 + payloadSize/2
		_, err := verifySketch(io.Discard, bytes.NewReader(data[:cut]))
		var oe *offsetError
		if !errors.As(err, &oe) {
			t.Fatalf("verifySketch() error = %v, want *offsetError", err)
		}
		if oe.offset != int64(cut) {
			t.Errorf("offset = %d, want %d", oe.offset, cut)
		}
		if !strings.Contains(err.Error(), "Truncated payload") {
			t.Errorf("error = %q", err)
		}
	})
}

func TestHandleInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.hll")
	if err := writeSketchFile(path, newTestHybrid(t, hyperloglog.DefaultConfig(), 100)); err != nil {
		t.Fatalf("writeSketchFile() error = %v", err)
	}

	app := newTestApp(t, "")
	var out bytes.Buffer
	if err := app.router.Dispatch(app, &out, []string{"inspect", "-v", path}); err != nil {
		t.Fatalf("inspect error = %v", err)
	}
	for _, want := range []string{"Checksum OK", "Encoding:     explicit", "Codes:        100", "Estimate:     100"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[headerSize+4] ^= 0x01
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := app.router.Dispatch(app, io.Discard, []string{"inspect", path}); !errors.Is(err, errChecksum) {
		t.Errorf("inspect of a corrupted file error = %v, want %v", err, errChecksum)
	}
}
