package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"camlapse/internal/fileutil"
	"camlapse/internal/logging"
	"camlapse/internal/services"
)

const maxSnapshotBytes = 64 << 20

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Fetcher.
type Options struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	Headers map[string]string
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client used for camera requests.
func WithHTTPClient(client HTTPDoer) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logging.NewComponentLogger(logger, "snapshot")
	}
}

// WithSleep replaces the backoff sleep (used in tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// Fetcher downloads single camera snapshots with bounded retries.
type Fetcher struct {
	opts   Options
	client HTTPDoer
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewFetcher builds a Fetcher. A non-positive retry count means one attempt.
func NewFetcher(opts Options, options ...Option) *Fetcher {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	f := &Fetcher{
		opts:   opts,
		client: &http.Client{},
		logger: logging.NewNop(),
		sleep:  Sleep,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Fetch downloads url into dest. It returns false with a nil error when every
// attempt failed; a missed frame is tolerated by the caller. A non-nil error
// means the frame could not be written (disk full, permissions) or ctx ended.
// dest is only ever created with a complete, non-empty response body.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (bool, error) {
	for attempt := 1; attempt <= f.opts.Retries; attempt++ {
		body, err := f.attempt(ctx, url)
		if err == nil {
			if werr := fileutil.WriteFileAtomic(dest, body, 0o644); werr != nil {
				return false, services.Wrap(services.ErrResource, "capture", "write snapshot", dest, werr)
			}
			f.logger.Debug("snapshot saved",
				logging.String("path", dest),
				logging.Int("bytes", len(body)),
				logging.Int("attempt", attempt),
			)
			return true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		f.logger.Debug("snapshot attempt failed",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", f.opts.Retries),
			logging.Error(err),
		)
		if attempt < f.opts.Retries {
			if err := f.sleep(ctx, f.opts.Backoff); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	reqCtx := ctx
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range f.opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("camera returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("camera returned an empty body")
	}
	if len(body) > maxSnapshotBytes {
		return nil, fmt.Errorf("snapshot exceeds %d bytes", maxSnapshotBytes)
	}
	return body, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
