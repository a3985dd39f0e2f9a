package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"camlapse/internal/encoding"
	"camlapse/internal/frames"
	"camlapse/internal/history"
	"camlapse/internal/logging"
	"camlapse/internal/runlock"
	"camlapse/internal/services"
	"camlapse/internal/youtube"
)

// Capture modes.
const (
	ModeLoop = "loop"
	ModeTick = "tick"
)

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeComplete means the video was uploaded and every artifact removed.
	OutcomeComplete Outcome = "complete"
	// OutcomeSuspended means the final video is kept for the next run.
	OutcomeSuspended Outcome = "suspended"
	// OutcomeCapturing means tick mode stored a frame and more are needed.
	OutcomeCapturing Outcome = "capturing"
	// OutcomeLocked means another run held the lock; nothing was done.
	OutcomeLocked Outcome = "locked"
	// OutcomeFailed means a stage returned an error.
	OutcomeFailed Outcome = "failed"
)

// Fetcher downloads one snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (bool, error)
}

// FrameStore is the captured frame directory.
type FrameStore interface {
	PathFor(index int) string
	NextIndex() (int, error)
	Count() (int, error)
	List() ([]frames.Frame, error)
	DeleteAll() error
}

// Encoder turns frames into chunk segments.
type Encoder interface {
	Started() (bool, error)
	EncodeAll(ctx context.Context, list []frames.Frame, params encoding.Params) ([]string, error)
	Clean() (int, error)
}

// Merger concatenates segments into the final video.
type Merger interface {
	Merge(ctx context.Context, segments []string) (string, error)
}

// Uploader publishes the final video.
type Uploader interface {
	Upload(ctx context.Context, path string) (*youtube.Video, error)
}

// Recorder persists run outcomes for operators.
type Recorder interface {
	Begin(ctx context.Context, id string, started time.Time) error
	Finish(ctx context.Context, run history.Run) error
	Close() error
}

// RecorderOpener opens the run ledger once the lock is held.
type RecorderOpener func() (Recorder, error)

// Options carries the configuration a run needs.
type Options struct {
	SnapshotURL         string
	Mode                string
	TotalFrames         int
	Interval            time.Duration
	Params              encoding.Params
	FinalVideo          string
	LockPath            string
	UploadEnabled       bool
	CleanupBeforeUpload bool
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Fetcher      Fetcher
	Frames       FrameStore
	Encoder      Encoder
	Merger       Merger
	Uploader     Uploader
	OpenRecorder RecorderOpener
}

// Result summarises a run.
type Result struct {
	RunID     string
	Outcome   Outcome
	Resumed   bool
	Stage     string
	Captured  int
	Missed    int
	Frames    int
	Segments  int
	VideoPath string
	VideoID   string
	// Cause is the upload error behind a suspended run, or the cleanup
	// error left behind by a complete one.
	Cause error
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logging.NewComponentLogger(logger, "pipeline")
	}
}

// WithSleep replaces the capture interval sleep (used in tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller orchestrates one pipeline run.
type Controller struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

// New builds a Controller.
func New(opts Options, deps Deps, options ...Option) *Controller {
	if opts.Mode == "" {
		opts.Mode = ModeLoop
	}
	c := &Controller{
		opts:   opts,
		deps:   deps,
		logger: logging.NewNop(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Run executes one invocation of the pipeline. Suspended and locked runs
// return a nil error; the caller should exit cleanly. Errors from capture,
// encode, or merge are returned with every artifact left in place.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	if c.opts.LockPath != "" {
		lock, err := runlock.Acquire(c.opts.LockPath)
		if err != nil {
			if errors.Is(err, runlock.ErrLocked) {
				c.logger.Info("another run holds the lock; exiting", logging.String("lock", c.opts.LockPath))
				return Result{Outcome: OutcomeLocked}, nil
			}
			return Result{Outcome: OutcomeFailed}, services.Wrap(services.ErrResource, "pipeline", "acquire lock", c.opts.LockPath, err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				c.logger.Warn("release lock failed", logging.Error(err))
			}
		}()
	}

	res := Result{RunID: uuid.NewString()}
	ctx = services.WithRun(ctx, res.RunID, c.opts.Mode)
	logger := logging.WithContext(ctx, c.logger)

	recorder := c.openRecorder(logger)
	started := c.now()
	if recorder != nil {
		defer recorder.Close()
		if err := recorder.Begin(ctx, res.RunID, started); err != nil {
			logger.Warn("record run start failed", logging.Error(err))
			recorder = nil
		}
	}

	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("total_frames", c.opts.TotalFrames),
	)
	err := c.run(ctx, &res)
	if err != nil {
		res.Outcome = OutcomeFailed
		if !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(logger, "run failed", "run_failure",
				logging.String(logging.FieldStage, res.Stage),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
			)
		}
	}
	logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_finish"),
		logging.String("outcome", string(res.Outcome)),
		logging.Bool("resumed", res.Resumed),
		logging.Int("captured", res.Captured),
		logging.Int("missed", res.Missed),
		logging.Int("segments", res.Segments),
		logging.String("video_id", res.VideoID),
		logging.Duration("elapsed", c.now().Sub(started)),
	)

	if recorder != nil {
		c.record(ctx, logger, recorder, res, err)
	}
	return res, err
}

func (c *Controller) openRecorder(logger *slog.Logger) Recorder {
	if c.deps.OpenRecorder == nil {
		return nil
	}
	recorder, err := c.deps.OpenRecorder()
	if err != nil {
		logger.Warn("run history unavailable", logging.Error(err))
		return nil
	}
	return recorder
}

func (c *Controller) record(ctx context.Context, logger *slog.Logger, recorder Recorder, res Result, runErr error) {
	run := history.Run{
		ID:         res.RunID,
		FinishedAt: c.now(),
		Outcome:    history.Outcome(res.Outcome),
		Stage:      res.Stage,
		Frames:     res.Frames,
		Segments:   res.Segments,
		VideoID:    res.VideoID,
	}
	switch {
	case runErr != nil:
		run.Error = runErr.Error()
	case res.Cause != nil:
		run.Error = res.Cause.Error()
	}
	// The ledger write must not be lost to a cancelled run context.
	if err := recorder.Finish(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("record run finish failed", logging.Error(err))
	}
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
