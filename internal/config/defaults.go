package config

const (
	defaultDataDir    = "~/.local/share/reel"
	defaultSegmentDir = "~/.local/share/reel/segments"
	defaultLogDir     = "~/.local/share/reel/logs"
	defaultAPIBind    = "127.0.0.1:7519"

	defaultRemoteBaseURL        = "http://127.0.0.1:8000/api/v1"
	defaultRemoteTimeoutSeconds = 30

	defaultChunkSeconds = 180
	defaultSampleRate   = 16000
	defaultChannels     = 1
	defaultMinFreeMB    = 128
	defaultFFmpegBinary = "ffmpeg"
	defaultInputFormat  = "pulse"
	defaultInputDevice  = "default"

	defaultQueueMaxRetries           = 5
	defaultQueueBackoffBaseSeconds   = 2
	defaultQueuePollIntervalSeconds  = 2
	defaultQueueMaxParallel          = 3
	defaultQueueUploadTimeoutSeconds = 60

	defaultPollerIntervalSeconds = 30
	defaultPollerMaxAttempts     = 20

	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			SegmentDir: defaultSegmentDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Remote: Remote{
			BaseURL:        defaultRemoteBaseURL,
			TimeoutSeconds: defaultRemoteTimeoutSeconds,
		},
		Capture: Capture{
			ChunkSeconds: defaultChunkSeconds,
			SampleRate:   defaultSampleRate,
			Channels:     defaultChannels,
			MinFreeMB:    defaultMinFreeMB,
			FFmpegBinary: defaultFFmpegBinary,
			InputFormat:  defaultInputFormat,
			InputDevice:  defaultInputDevice,
		},
		Queue: Queue{
			MaxRetries:           defaultQueueMaxRetries,
			BackoffBaseSeconds:   defaultQueueBackoffBaseSeconds,
			PollIntervalSeconds:  defaultQueuePollIntervalSeconds,
			MaxParallel:          defaultQueueMaxParallel,
			UploadTimeoutSeconds: defaultQueueUploadTimeoutSeconds,
		},
		Poller: Poller{
			IntervalSeconds: defaultPollerIntervalSeconds,
			MaxAttempts:     defaultPollerMaxAttempts,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completion:     true,
			Delivery:       true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
