package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"camlapse/internal/config"
	"camlapse/internal/encoding"
	"camlapse/internal/frames"
	"camlapse/internal/history"
	"camlapse/internal/pipeline"
	"camlapse/internal/snapshot"
	"camlapse/internal/youtube"
)

// uploaderFunc adapts a function to pipeline.Uploader.
type uploaderFunc func(ctx context.Context, path string) (*youtube.Video, error)

func (f uploaderFunc) Upload(ctx context.Context, path string) (*youtube.Video, error) {
	return f(ctx, path)
}

func encodingParams(cfg *config.Config) (encoding.Params, error) {
	width, height, err := config.ParseResolution(cfg.Encoding.Resolution)
	if err != nil {
		return encoding.Params{}, err
	}
	return encoding.Params{
		ChunkSize: cfg.Encoding.ChunkSize,
		FrameRate: cfg.Encoding.FrameRate,
		Width:     width,
		Height:    height,
		Preset:    cfg.Encoding.Preset,
		CRF:       cfg.Encoding.CRF,
	}, nil
}

func buildController(cfg *config.Config, mode string, logger *slog.Logger, prompt youtube.CodePrompter) (*pipeline.Controller, error) {
	params, err := encodingParams(cfg)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = cfg.Capture.Mode
	}

	runner := encoding.FFmpegRunner{Binary: cfg.FFmpegBinary()}
	deps := pipeline.Deps{
		Fetcher: snapshot.NewFetcher(snapshot.Options{
			Timeout: cfg.SnapshotTimeout(),
			Retries: cfg.Camera.Retries,
			Backoff: cfg.SnapshotBackoff(),
			Headers: cfg.Camera.Headers,
		}, snapshot.WithLogger(logger)),
		Frames:  frames.NewStore(cfg.Paths.FramesDir, cfg.Camera.SnapshotPrefix),
		Encoder: encoding.NewChunkEncoder(cfg.Paths.ChunksDir, runner, logger),
		Merger:  encoding.NewMerger(cfg.Paths.ChunksDir, cfg.Paths.FinalVideo, runner, logger),
		OpenRecorder: func() (pipeline.Recorder, error) {
			return history.Open(cfg.HistoryPath())
		},
	}
	if cfg.Upload.Enabled {
		deps.Uploader = newUploader(cfg, logger, prompt)
	}

	opts := pipeline.Options{
		SnapshotURL:         cfg.Camera.SnapshotURL,
		Mode:                mode,
		TotalFrames:         cfg.Capture.TotalFrames,
		Interval:            cfg.CaptureInterval(),
		Params:              params,
		FinalVideo:          cfg.Paths.FinalVideo,
		LockPath:            cfg.Paths.LockFile,
		UploadEnabled:       cfg.Upload.Enabled,
		CleanupBeforeUpload: cfg.CleanupBeforeUpload(),
	}
	return pipeline.New(opts, deps, pipeline.WithLogger(logger)), nil
}

// newUploader defers reading client secrets until the upload stage so that a
// missing credential never blocks capture or encoding.
func newUploader(cfg *config.Config, logger *slog.Logger, prompt youtube.CodePrompter) pipeline.Uploader {
	return uploaderFunc(func(ctx context.Context, path string) (*youtube.Video, error) {
		auth, err := newAuthenticator(cfg, logger, prompt)
		if err != nil {
			return nil, err
		}
		opts := youtube.UploadOptions{
			BaseURL:        cfg.Upload.BaseURL,
			ChunkSize:      cfg.UploadChunkBytes(),
			MaxRetries:     cfg.Upload.MaxRetries,
			Backoff:        time.Duration(cfg.Upload.RetryBackoff) * time.Second,
			RequestTimeout: time.Duration(cfg.Upload.RequestTimeout) * time.Second,
		}
		coordinator := youtube.NewCoordinator(auth, opts, uploadMetadata(cfg), logger)
		return coordinator.Upload(ctx, path)
	})
}

func newAuthenticator(cfg *config.Config, logger *slog.Logger, prompt youtube.CodePrompter) (*youtube.Authenticator, error) {
	clientConfig, err := youtube.LoadClientConfig(cfg.Paths.ClientSecretsFile)
	if err != nil {
		return nil, err
	}
	options := []youtube.AuthOption{youtube.WithAuthLogger(logger)}
	if prompt != nil {
		options = append(options, youtube.WithPrompter(prompt))
	}
	return youtube.NewAuthenticator(clientConfig, youtube.NewFileTokenStore(cfg.Paths.TokenFile), options...), nil
}

func uploadMetadata(cfg *config.Config) youtube.MetadataFunc {
	return func(now time.Time) youtube.Metadata {
		return youtube.Metadata{
			Title:         youtube.Title(cfg.Upload.TitleBase, now, cfg.Upload.TitleCase),
			Description:   cfg.Upload.Description,
			Tags:          cfg.Upload.Tags,
			CategoryID:    cfg.Upload.CategoryID,
			PrivacyStatus: cfg.Upload.PrivacyStatus,
		}
	}
}

// terminalPrompter asks for the verification code on stdin when a human is
// attached. Unattended runs get ErrInteractionUnavailable instead of blocking.
func terminalPrompter(in *os.File, out io.Writer) youtube.CodePrompter {
	return func(ctx context.Context, authURL string) (string, error) {
		fd := in.Fd()
		if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
			return "", youtube.ErrInteractionUnavailable
		}
		return readCode(ctx, in, out, authURL)
	}
}

func readCode(ctx context.Context, in io.Reader, out io.Writer, authURL string) (string, error) {
	fmt.Fprintln(out, "Open this URL in a browser and authorize camlapse:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  "+authURL)
	fmt.Fprintln(out)
	fmt.Fprint(out, "Verification code: ")

	type answer struct {
		code string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			ch <- answer{err: fmt.Errorf("read verification code: %w", err)}
			return
		}
		ch <- answer{code: strings.TrimSpace(line)}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return "", a.err
		}
		if a.code == "" {
			return "", fmt.Errorf("empty verification code")
		}
		return a.code, nil
	}
}
