package config

const (
	defaultConfigPath            = "~/.config/camlapse/config.toml"
	defaultWorkDir               = "~/.local/share/camlapse/work"
	defaultStateDir              = "~/.local/share/camlapse/state"
	defaultTokenFile             = "~/.config/camlapse/token.json"
	defaultClientSecretsFile     = "~/.config/camlapse/client_secrets.json"
	defaultFramesSubdir          = "frames"
	defaultChunksSubdir          = "chunks"
	defaultFinalVideoName        = "timelapse.mp4"
	defaultLockName              = "camlapse.lock"
	defaultSnapshotTimeout       = 10
	defaultSnapshotRetries       = 3
	defaultSnapshotBackoff       = 2
	defaultSnapshotPrefix        = "snap"
	defaultCaptureMode           = CaptureModeLoop
	defaultTotalFrames           = 2880
	defaultCaptureInterval       = 30
	defaultChunkSize             = 2000
	defaultFrameRate             = 30
	defaultResolution            = "1920x1080"
	defaultPreset                = "slow"
	defaultCRF                   = 20
	defaultTitleBase             = "Timelapse"
	defaultPrivacyStatus         = "private"
	defaultCategoryID            = "22"
	defaultUploadChunkSizeMiB    = 8
	defaultUploadMaxRetries      = 5
	defaultUploadRetryBackoff    = 5
	defaultUploadRequestTimeout  = 120
	defaultUploadBaseURL         = "https://www.googleapis.com"
	defaultUploadCleanup         = CleanupAfterUpload
	defaultNotifyTimeout         = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	maxFrameIndexWidthFrameCount = 999999
)

const (
	// CaptureModeLoop captures every configured frame in one invocation.
	CaptureModeLoop = "loop"
	// CaptureModeTick captures a single frame per invocation.
	CaptureModeTick = "tick"

	// CleanupAfterUpload keeps frames and segments until the upload is confirmed.
	CleanupAfterUpload = "after_upload"
	// CleanupBeforeUpload removes frames and segments once the final video exists.
	CleanupBeforeUpload = "before_upload"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:           defaultWorkDir,
			StateDir:          defaultStateDir,
			TokenFile:         defaultTokenFile,
			ClientSecretsFile: defaultClientSecretsFile,
		},
		Camera: Camera{
			TimeoutSeconds:      defaultSnapshotTimeout,
			Retries:             defaultSnapshotRetries,
			RetryBackoffSeconds: defaultSnapshotBackoff,
			SnapshotPrefix:      defaultSnapshotPrefix,
		},
		Capture: Capture{
			Mode:            defaultCaptureMode,
			TotalFrames:     defaultTotalFrames,
			IntervalSeconds: defaultCaptureInterval,
		},
		Encoding: Encoding{
			ChunkSize:  defaultChunkSize,
			FrameRate:  defaultFrameRate,
			Resolution: defaultResolution,
			Preset:     defaultPreset,
			CRF:        defaultCRF,
		},
		Upload: Upload{
			Enabled:        true,
			TitleBase:      defaultTitleBase,
			CategoryID:     defaultCategoryID,
			PrivacyStatus:  defaultPrivacyStatus,
			ChunkSizeMiB:   defaultUploadChunkSizeMiB,
			MaxRetries:     defaultUploadMaxRetries,
			RetryBackoff:   defaultUploadRetryBackoff,
			RequestTimeout: defaultUploadRequestTimeout,
			BaseURL:        defaultUploadBaseURL,
			Cleanup:        defaultUploadCleanup,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
