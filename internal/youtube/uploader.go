package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"camlapse/internal/logging"
	"camlapse/internal/services"
)

const (
	defaultBaseURL     = "https://www.googleapis.com"
	defaultChunkSize   = 8 << 20
	chunkGranularity   = 256 << 10
	uploadPath         = "/upload/youtube/v3/videos"
	statusResumeNeeded = 308
)

var errNoProgress = errors.New("server acknowledged chunk without advancing offset")

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Video is the result of a confirmed upload.
type Video struct {
	ID    string
	Bytes int64
}

// Session is an open resumable upload. It is never persisted.
type Session struct {
	URI    string
	Offset int64
	Total  int64
}

// UploadOptions tunes the resumable transfer.
type UploadOptions struct {
	BaseURL        string
	ChunkSize      int64
	MaxRetries     int
	Backoff        time.Duration
	RequestTimeout time.Duration
}

// ProgressFunc receives cumulative bytes acknowledged by the server.
type ProgressFunc func(sent, total int64)

// Option customises Uploader construction.
type Option func(*Uploader)

// WithLogger attaches a logger for session and progress events.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) {
		u.logger = logging.NewComponentLogger(logger, "youtube")
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(u *Uploader) {
		u.progress = fn
	}
}

// WithSleep replaces the retry backoff sleep (used in tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(u *Uploader) {
		u.sleep = sleep
	}
}

// Uploader sends files through the resumable upload protocol.
type Uploader struct {
	client   HTTPDoer
	opts     UploadOptions
	logger   *slog.Logger
	progress ProgressFunc
	sleep    func(context.Context, time.Duration) error
}

// NewUploader builds an Uploader over an authorized client.
func NewUploader(client HTTPDoer, opts UploadOptions, options ...Option) *Uploader {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	// The service requires every non-final chunk to be a multiple of 256 KiB.
	if rem := opts.ChunkSize % chunkGranularity; rem != 0 {
		opts.ChunkSize += chunkGranularity - rem
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	u := &Uploader{
		client: client,
		opts:   opts,
		logger: logging.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range options {
		opt(u)
	}
	return u
}

// statusError carries the HTTP status of a failed protocol exchange.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests || se.code == http.StatusRequestTimeout
	}
	return err != nil
}

func classify(op string, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
			return services.Wrap(services.ErrAuthorization, "upload", op, "credential rejected", err)
		case se.code == http.StatusNotFound || se.code == http.StatusGone:
			return services.Wrap(services.ErrTransient, "upload", op, "upload session expired", err)
		case transient(err):
			return services.Wrap(services.ErrTransient, "upload", op, "retries exhausted", err)
		default:
			return services.Wrap(services.ErrValidation, "upload", op, "request rejected", err)
		}
	}
	return services.Wrap(services.ErrTransient, "upload", op, "retries exhausted", err)
}

// Upload opens a new session for path and drives it to completion. Transient
// chunk failures are retried on the same session after asking the server for
// its committed offset.
func (u *Uploader) Upload(ctx context.Context, path string, meta Metadata) (*Video, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrResource, "upload", "open video", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, services.Wrap(services.ErrResource, "upload", "stat video", path, err)
	}
	if info.Size() == 0 {
		return nil, services.Wrap(services.ErrValidation, "upload", "stat video", "video is empty", nil)
	}

	session, err := u.Open(ctx, meta, info.Size())
	if err != nil {
		return nil, err
	}
	u.logger.Info("upload session opened",
		logging.String("title", meta.Title),
		logging.Int64("bytes", session.Total),
		logging.Int64("chunk_bytes", u.opts.ChunkSize),
	)

	sampler := logging.NewProgressSampler(10)
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := session.Offset
		video, err := u.sendChunk(ctx, file, session)
		if err == nil && video == nil && session.Offset <= before {
			err = errNoProgress
		}
		if err == nil && video != nil {
			u.report(sampler, session.Total, session.Total)
			video.Bytes = session.Total
			u.logger.Info("upload complete", logging.String("video_id", video.ID))
			return video, nil
		}
		if err == nil {
			failures = 0
			u.report(sampler, session.Offset, session.Total)
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !transient(err) || failures >= u.opts.MaxRetries {
			return nil, classify(fmt.Sprintf("chunk at offset %d", session.Offset), err)
		}
		failures++
		logging.WarnWithContext(u.logger, "upload chunk failed; retrying", "upload_chunk_retry",
			logging.Int("attempt", failures),
			logging.Int("max_retries", u.opts.MaxRetries),
			logging.Int64("offset", session.Offset),
			logging.Error(err),
			logging.String(logging.FieldImpact, "upload resumes from the server's committed offset"),
		)
		if err := u.sleep(ctx, u.opts.Backoff); err != nil {
			return nil, err
		}
		video, err = u.queryStatus(ctx, session)
		if err == nil && video != nil {
			video.Bytes = session.Total
			u.logger.Info("upload complete", logging.String("video_id", video.ID))
			return video, nil
		}
		if err != nil {
			u.logger.Debug("upload status query failed", logging.Error(err))
		}
	}
}

// Open starts a resumable session for total bytes of video/mp4.
func (u *Uploader) Open(ctx context.Context, meta Metadata, total int64) (*Session, error) {
	payload, err := json.Marshal(meta.resource())
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "upload", "encode metadata", "", err)
	}
	endpoint := u.opts.BaseURL + uploadPath + "?uploadType=resumable&part=snippet,status"

	var lastErr error
	for attempt := 0; attempt <= u.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := u.sleep(ctx, u.opts.Backoff); err != nil {
				return nil, err
			}
		}
		uri, err := u.openOnce(ctx, endpoint, payload, total)
		if err == nil {
			return &Session{URI: uri, Total: total}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !transient(err) {
			break
		}
		u.logger.Debug("open session attempt failed", logging.Int("attempt", attempt+1), logging.Error(err))
	}
	return nil, classify("open session", lastErr)
}

func (u *Uploader) openOnce(ctx context.Context, endpoint string, payload []byte, total int64) (string, error) {
	reqCtx, cancel := u.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "video/mp4")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(total, 10))

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", newStatusError(resp)
	}
	location := strings.TrimSpace(resp.Header.Get("Location"))
	if location == "" {
		return "", &statusError{code: http.StatusBadGateway, body: "session response missing Location header"}
	}
	return location, nil
}

// sendChunk transfers the next chunk. It returns a video when the server
// reports completion, or advances session.Offset on 308.
func (u *Uploader) sendChunk(ctx context.Context, file io.ReaderAt, session *Session) (*Video, error) {
	start := session.Offset
	length := min(u.opts.ChunkSize, session.Total-start)
	if length <= 0 {
		return u.queryStatus(ctx, session)
	}
	end := start + length - 1

	reqCtx, cancel := u.requestContext(ctx)
	defer cancel()
	body := io.NewSectionReader(file, start, length)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, session.URI, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, session.Total))

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	return u.handleResponse(resp, session)
}

// queryStatus asks the server how many bytes of the session it holds.
func (u *Uploader) queryStatus(ctx context.Context, session *Session) (*Video, error) {
	reqCtx, cancel := u.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, session.URI, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.ContentLength = 0
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", session.Total))

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	return u.handleResponse(resp, session)
}

func (u *Uploader) handleResponse(resp *http.Response, session *Session) (*Video, error) {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode upload response: %w", err)
		}
		if payload.ID == "" {
			return nil, errors.New("upload response missing video id")
		}
		session.Offset = session.Total
		return &Video{ID: payload.ID}, nil
	case statusResumeNeeded:
		offset, err := committedOffset(resp.Header.Get("Range"))
		if err != nil {
			return nil, err
		}
		session.Offset = offset
		return nil, nil
	default:
		return nil, newStatusError(resp)
	}
}

// committedOffset parses "bytes=0-N" into N+1. An absent header means the
// server holds nothing yet.
func committedOffset(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil
	}
	rng, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, fmt.Errorf("malformed Range header %q", header)
	}
	_, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, fmt.Errorf("malformed Range header %q", header)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Range header %q: %w", header, err)
	}
	return n + 1, nil
}

func (u *Uploader) report(sampler *logging.ProgressSampler, sent, total int64) {
	if u.progress != nil {
		u.progress(sent, total)
	}
	if percent, ok := sampler.Observe(sent, total); ok {
		u.logger.Info("upload progress",
			logging.Float64("percent", percent),
			logging.Int64("sent", sent),
			logging.Int64("total", total),
		)
	}
}

func (u *Uploader) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, u.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func newStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
