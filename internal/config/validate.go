package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validatePoller(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRemote() error {
	base := strings.TrimSpace(c.Remote.BaseURL)
	if base == "" {
		return errors.New("remote.base_url must be set")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.base_url %q is not a valid URL", base)
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return errors.New("remote.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.ChunkSeconds <= 0 {
		return errors.New("capture.chunk_seconds must be positive")
	}
	if c.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if c.Capture.Channels != 1 && c.Capture.Channels != 2 {
		return errors.New("capture.channels must be 1 or 2")
	}
	if c.Capture.MinFreeMB < 0 {
		return errors.New("capture.min_free_mb must not be negative")
	}
	if strings.TrimSpace(c.Capture.FFmpegBinary) == "" {
		return errors.New("capture.ffmpeg_binary must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxRetries <= 0 {
		return errors.New("queue.max_retries must be positive")
	}
	if c.Queue.BackoffBaseSeconds <= 0 {
		return errors.New("queue.backoff_base_seconds must be positive")
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		return errors.New("queue.poll_interval_seconds must be positive")
	}
	if c.Queue.MaxParallel <= 0 {
		return errors.New("queue.max_parallel must be positive")
	}
	if c.Queue.UploadTimeoutSeconds <= 0 {
		return errors.New("queue.upload_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePoller() error {
	if c.Poller.IntervalSeconds <= 0 {
		return errors.New("poller.interval_seconds must be positive")
	}
	if c.Poller.MaxAttempts <= 0 {
		return errors.New("poller.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (console or json)", c.Logging.Format)
	}
	return nil
}
