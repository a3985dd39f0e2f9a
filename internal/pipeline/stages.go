package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"camlapse/internal/fileutil"
	"camlapse/internal/logging"
	"camlapse/internal/services"
)

const (
	stageResume  = "resume"
	stageCapture = "capture"
	stageEncode  = "encode"
	stageMerge   = "merge"
	stageCleanup = "cleanup"
	stageUpload  = "upload"
)

func (c *Controller) run(ctx context.Context, res *Result) error {
	res.Stage = stageResume
	videoID, uploaded, err := c.readReceipt()
	if err != nil {
		return services.Wrap(services.ErrResource, stageResume, "read upload receipt", c.receiptPath(), err)
	}
	if uploaded {
		res.Resumed = true
		res.VideoID = videoID
		res.Outcome = OutcomeComplete
		logging.WithContext(ctx, c.logger).Info("upload already confirmed; finishing cleanup",
			logging.String("video_id", videoID),
		)
		c.finishCleanup(ctx, res, c.opts.FinalVideo)
		return nil
	}

	done, err := fileutil.NonEmptyFile(c.opts.FinalVideo)
	if err != nil {
		return services.Wrap(services.ErrResource, stageResume, "stat final video", c.opts.FinalVideo, err)
	}
	if done {
		res.Resumed = true
		res.VideoPath = c.opts.FinalVideo
		logging.WithContext(ctx, c.logger).Info("final video present; resuming at upload",
			logging.String("path", c.opts.FinalVideo),
		)
		return c.upload(ctx, res)
	}

	proceed, err := c.capture(ctx, res)
	if err != nil {
		return err
	}
	if !proceed {
		res.Outcome = OutcomeCapturing
		return nil
	}

	segments, err := c.encode(ctx, res)
	if err != nil {
		return err
	}

	res.Stage = stageMerge
	video, err := c.deps.Merger.Merge(services.WithStage(ctx, stageMerge), segments)
	if err != nil {
		return err
	}
	res.VideoPath = video
	return c.upload(ctx, res)
}

// capture reports whether the run should move on to encoding.
func (c *Controller) capture(ctx context.Context, res *Result) (bool, error) {
	res.Stage = stageCapture
	ctx = services.WithStage(ctx, stageCapture)
	logger := logging.WithContext(ctx, c.logger)

	started, err := c.deps.Encoder.Started()
	if err != nil {
		return false, services.Wrap(services.ErrResource, stageCapture, "inspect chunks", "", err)
	}
	if started {
		logger.Info("chunk segments already exist; capture is closed")
		return true, nil
	}

	existing, err := c.deps.Frames.Count()
	if err != nil {
		return false, services.Wrap(services.ErrResource, stageCapture, "count frames", "", err)
	}

	if c.opts.Mode == ModeTick {
		if existing >= c.opts.TotalFrames {
			return true, nil
		}
		if err := c.captureOne(ctx, res); err != nil {
			return false, err
		}
		stored, err := c.deps.Frames.Count()
		if err != nil {
			return false, services.Wrap(services.ErrResource, stageCapture, "count frames", "", err)
		}
		logger.Info("tick captured",
			logging.Int("stored", stored),
			logging.Int("total_frames", c.opts.TotalFrames),
		)
		return stored >= c.opts.TotalFrames, nil
	}

	attempts := c.opts.TotalFrames - existing
	if attempts <= 0 {
		logger.Info("capture already complete", logging.Int("stored", existing))
		return true, nil
	}
	logger.Info("capture started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("existing", existing),
		logging.Int("attempts", attempts),
		logging.Duration("interval", c.opts.Interval),
	)
	sampler := logging.NewProgressSampler(10)
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := c.sleep(ctx, c.opts.Interval); err != nil {
				return false, err
			}
		}
		if err := c.captureOne(ctx, res); err != nil {
			return false, err
		}
		if percent, ok := sampler.Observe(int64(i+1), int64(attempts)); ok {
			logger.Info("capture progress",
				logging.Float64("percent", percent),
				logging.Int("attempted", i+1),
				logging.Int("captured", res.Captured),
				logging.Int("missed", res.Missed),
			)
		}
	}
	logger.Info("capture finished",
		logging.Int("captured", res.Captured),
		logging.Int("missed", res.Missed),
	)
	return true, nil
}

func (c *Controller) captureOne(ctx context.Context, res *Result) error {
	logger := logging.WithContext(ctx, c.logger)
	index, err := c.deps.Frames.NextIndex()
	if err != nil {
		return services.Wrap(services.ErrResource, stageCapture, "next frame index", "", err)
	}
	dest := c.deps.Frames.PathFor(index)
	ok, err := c.deps.Fetcher.Fetch(ctx, c.opts.SnapshotURL, dest)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("frame %d: %w", index, err)
	}
	if !ok {
		res.Missed++
		logging.WarnWithContext(logger, "snapshot missed", "snapshot_missed",
			logging.Int("frame", index),
			logging.String(logging.FieldErrorHint, "check camera reachability with camlapse doctor"),
			logging.String(logging.FieldImpact, "the video has one frame fewer"),
		)
		return nil
	}
	res.Captured++
	logger.Debug("frame captured", logging.Int("frame", index))
	return nil
}

func (c *Controller) encode(ctx context.Context, res *Result) ([]string, error) {
	res.Stage = stageEncode
	ctx = services.WithStage(ctx, stageEncode)
	list, err := c.deps.Frames.List()
	if err != nil {
		return nil, services.Wrap(services.ErrResource, stageEncode, "list frames", "", err)
	}
	res.Frames = len(list)
	if len(list) == 0 {
		return nil, services.Wrap(services.ErrValidation, stageEncode, "list frames", "no frames captured", nil)
	}
	segments, err := c.deps.Encoder.EncodeAll(ctx, list, c.opts.Params)
	if err != nil {
		return nil, err
	}
	res.Segments = len(segments)
	return segments, nil
}

// cleanIntermediates removes segments, manifests, and frames, in that order,
// so a partial cleanup never leaves segments that a later run would merge.
// It is idempotent so a resumed run can repeat it.
func (c *Controller) cleanIntermediates(ctx context.Context) error {
	ctx = services.WithStage(ctx, stageCleanup)
	removed, err := c.deps.Encoder.Clean()
	if err != nil {
		return services.Wrap(services.ErrResource, stageCleanup, "delete chunks", "", err)
	}
	if err := c.deps.Frames.DeleteAll(); err != nil {
		return services.Wrap(services.ErrResource, stageCleanup, "delete frames", "", err)
	}
	logging.WithContext(ctx, c.logger).Info("intermediate artifacts removed", logging.Int("chunk_files", removed))
	return nil
}

func (c *Controller) upload(ctx context.Context, res *Result) error {
	if res.VideoPath == "" {
		res.VideoPath = c.opts.FinalVideo
	}
	if c.opts.CleanupBeforeUpload {
		res.Stage = stageCleanup
		if err := c.cleanIntermediates(ctx); err != nil {
			return err
		}
	}

	res.Stage = stageUpload
	ctx = services.WithStage(ctx, stageUpload)
	logger := logging.WithContext(ctx, c.logger)
	if !c.opts.UploadEnabled || c.deps.Uploader == nil {
		logger.Info("upload disabled; final video kept", logging.String("path", res.VideoPath))
		res.Outcome = OutcomeSuspended
		return nil
	}

	video, err := c.deps.Uploader.Upload(ctx, res.VideoPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.WarnWithContext(logger, "upload failed; run suspended", "upload_suspended",
			logging.Error(err),
			logging.String("path", res.VideoPath),
			logging.Bool("retryable", services.Retryable(err)),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "final video kept on disk"),
		)
		res.Outcome = OutcomeSuspended
		res.Cause = err
		return nil
	}
	res.VideoID = video.ID
	res.Outcome = OutcomeComplete
	logger.Info("upload confirmed", logging.String("video_id", video.ID))

	if err := fileutil.WriteFileAtomic(c.receiptPath(), []byte(video.ID+"\n"), 0o644); err != nil {
		logging.WarnWithContext(logger, "write upload receipt failed", "receipt_write_failed",
			logging.Error(err),
			logging.String("path", c.receiptPath()),
			logging.String(logging.FieldImpact, "an interrupted cleanup may upload this video again"),
		)
	}
	c.finishCleanup(ctx, res, res.VideoPath)
	return nil
}

// finishCleanup runs the post-upload deletions and drops the receipt once
// nothing is left. Failures are logged and kept in res.Cause; the upload
// stays confirmed.
func (c *Controller) finishCleanup(ctx context.Context, res *Result, video string) {
	res.Stage = stageCleanup
	logger := logging.WithContext(services.WithStage(ctx, stageCleanup), c.logger)
	err := c.cleanAfterUpload(ctx, video)
	if err == nil {
		if rmErr := os.Remove(c.receiptPath()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = services.Wrap(services.ErrResource, stageCleanup, "delete upload receipt", c.receiptPath(), rmErr)
		}
	}
	if err != nil {
		res.Cause = err
		logging.WarnWithContext(logger, "cleanup after upload incomplete", "cleanup_incomplete",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "the next run retries cleanup before capturing"),
		)
	}
}

// cleanAfterUpload deletes everything a confirmed upload made redundant,
// attempting every deletion even after a failure. Segments go before frames
// so a partial cleanup never leaves anything a later merge would pick up.
func (c *Controller) cleanAfterUpload(ctx context.Context, video string) error {
	var errs []error
	if !c.opts.CleanupBeforeUpload {
		removed, err := c.deps.Encoder.Clean()
		if err != nil {
			errs = append(errs, services.Wrap(services.ErrResource, stageCleanup, "delete chunks", "", err))
		}
		if err := c.deps.Frames.DeleteAll(); err != nil {
			errs = append(errs, services.Wrap(services.ErrResource, stageCleanup, "delete frames", "", err))
		}
		if len(errs) == 0 {
			logging.WithContext(services.WithStage(ctx, stageCleanup), c.logger).Info("intermediate artifacts removed",
				logging.Int("chunk_files", removed))
		}
	}
	if err := os.Remove(video); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, services.Wrap(services.ErrResource, stageCleanup, "delete final video", video, err))
	}
	return errors.Join(errs...)
}

// receiptPath marks a confirmed upload whose cleanup has not finished. While
// it exists a run only retries cleanup.
func (c *Controller) receiptPath() string {
	return c.opts.FinalVideo + ".uploaded"
}

func (c *Controller) readReceipt() (string, bool, error) {
	data, err := os.ReadFile(c.receiptPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}
