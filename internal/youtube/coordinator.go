package youtube

import (
	"context"
	"log/slog"
	"time"
)

// MetadataFunc builds upload metadata at upload time.
type MetadataFunc func(now time.Time) Metadata

// Coordinator authenticates and uploads in one call, opening a fresh session
// every time.
type Coordinator struct {
	auth     *Authenticator
	opts     UploadOptions
	metadata MetadataFunc
	logger   *slog.Logger
	now      func() time.Time
	options  []Option
}

// NewCoordinator builds a Coordinator. Extra options are applied to every
// Uploader it creates.
func NewCoordinator(auth *Authenticator, opts UploadOptions, metadata MetadataFunc, logger *slog.Logger, options ...Option) *Coordinator {
	return &Coordinator{
		auth:     auth,
		opts:     opts,
		metadata: metadata,
		logger:   logger,
		now:      time.Now,
		options:  options,
	}
}

// Upload sends path and returns the created video.
func (c *Coordinator) Upload(ctx context.Context, path string) (*Video, error) {
	client, err := c.auth.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	options := append([]Option{WithLogger(c.logger)}, c.options...)
	uploader := NewUploader(client, c.opts, options...)
	return uploader.Upload(ctx, path, c.metadata(c.now()))
}
