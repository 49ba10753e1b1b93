package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

const wavHeaderSize = 44

// segmentWriter streams PCM into a WAV file. The header is written with zero
// sizes up front and patched when the segment closes, so a crash mid-segment
// leaves a recognizable (if truncated) file rather than raw PCM.
type segmentWriter struct {
	file       *os.File
	path       string
	sampleRate int
	channels   int
	written    int64
}

func newSegmentWriter(path string, sampleRate, channels int) (*segmentWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating segment %s: %w", path, err)
	}
	w := &segmentWriter{file: file, path: path, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *segmentWriter) writeHeader(dataLen uint32) error {
	var header [wavHeaderSize]byte
	byteRate := uint32(w.sampleRate * w.channels * 2)
	blockAlign := uint16(w.channels * 2)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataLen)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataLen)

	if _, err := w.file.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}
	return nil
}

func (w *segmentWriter) Write(p []byte) (int, error) {
	n, err := w.file.WriteAt(p, wavHeaderSize+w.written)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing segment %s: %w", w.path, err)
	}
	return n, nil
}

// BytesWritten returns the PCM payload size so far.
func (w *segmentWriter) BytesWritten() int64 {
	return w.written
}

// Duration converts the written payload into audio time.
func (w *segmentWriter) Duration() time.Duration {
	bytesPerSecond := int64(w.sampleRate * w.channels * 2)
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(w.written*int64(time.Second)) / time.Duration(bytesPerSecond)
}

// Close patches the header sizes and syncs the segment to disk.
func (w *segmentWriter) Close() error {
	if err := w.writeHeader(uint32(w.written)); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("syncing segment %s: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing segment %s: %w", w.path, err)
	}
	return nil
}

// Discard closes and deletes a segment that recorded nothing.
func (w *segmentWriter) Discard() {
	w.file.Close()
	os.Remove(w.path)
}
