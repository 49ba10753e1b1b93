package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"reel/internal/config"
	"reel/internal/faults"
)

// Source produces a raw PCM stream (16-bit little-endian) at the configured
// sample rate and channel count.
type Source interface {
	// Probe verifies the source can be opened before capture starts.
	Probe(ctx context.Context) error
	// Start begins streaming. The returned reader yields raw PCM until the
	// source is closed or the context is cancelled.
	Start(ctx context.Context) (io.ReadCloser, error)
}

// FFmpegSource captures from an audio input device by running ffmpeg and
// reading raw PCM off its stdout.
type FFmpegSource struct {
	binary     string
	format     string
	device     string
	sampleRate int
	channels   int
}

// NewFFmpegSource builds a source from the capture section of the config.
func NewFFmpegSource(cfg *config.Config) *FFmpegSource {
	return &FFmpegSource{
		binary:     cfg.Capture.FFmpegBinary,
		format:     cfg.Capture.InputFormat,
		device:     cfg.Capture.InputDevice,
		sampleRate: cfg.Capture.SampleRate,
		channels:   cfg.Capture.Channels,
	}
}

// Probe checks that the ffmpeg binary is reachable and executable.
func (s *FFmpegSource) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(s.binary); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return faults.Wrap(faults.ErrPermissionDenied, "capture", "probe source",
				fmt.Sprintf("%s is not executable", s.binary), err)
		}
		return faults.Wrap(faults.ErrPermissionDenied, "capture", "probe source",
			fmt.Sprintf("%s not found in PATH", s.binary), err)
	}
	return nil
}

// Start launches ffmpeg reading from the input device and streaming raw
// s16le PCM to stdout. Closing the returned reader tears the process down.
func (s *FFmpegSource) Start(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.binary,
		"-hide_banner", "-loglevel", "error",
		"-f", s.format,
		"-i", s.device,
		"-ac", strconv.Itoa(s.channels),
		"-ar", strconv.Itoa(s.sampleRate),
		"-f", "s16le",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, faults.Wrap(faults.ErrPermissionDenied, "capture", "start source", "launching ffmpeg", err)
		}
		return nil, fmt.Errorf("launching ffmpeg: %w", err)
	}
	return &processStream{ReadCloser: stdout, cmd: cmd}, nil
}

// processStream ties the PCM reader to the lifetime of the ffmpeg process.
type processStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *processStream) Close() error {
	p.ReadCloser.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	// Reap the process; the error is expected after a kill.
	p.cmd.Wait()
	return nil
}
