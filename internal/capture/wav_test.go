package capture

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSegmentWriterPatchesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk_0000.wav")
	w, err := newSegmentWriter(path, 16000, 1)
	if err != nil {
		t.Fatalf("newSegmentWriter failed: %v", err)
	}

	payload := make([]byte, 32000) // one second of 16 kHz mono s16le
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if w.Duration() != time.Second {
		t.Fatalf("expected 1s duration, got %v", w.Duration())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading segment failed: %v", err)
	}
	if len(raw) != wavHeaderSize+len(payload) {
		t.Fatalf("unexpected file size %d", len(raw))
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(raw[4:8]); got != 36+uint32(len(payload)) {
		t.Fatalf("riff size not patched: %d", got)
	}
	if got := binary.LittleEndian.Uint32(raw[40:44]); got != uint32(len(payload)) {
		t.Fatalf("data size not patched: %d", got)
	}
	if got := binary.LittleEndian.Uint32(raw[24:28]); got != 16000 {
		t.Fatalf("unexpected sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint16(raw[22:24]); got != 1 {
		t.Fatalf("unexpected channel count %d", got)
	}
}

func TestSegmentWriterDiscard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk_0000.wav")
	w, err := newSegmentWriter(path, 16000, 1)
	if err != nil {
		t.Fatalf("newSegmentWriter failed: %v", err)
	}
	w.Discard()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("discarded segment still exists: %v", err)
	}
}
