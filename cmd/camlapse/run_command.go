package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"camlapse/internal/config"
	"camlapse/internal/logging"
	"camlapse/internal/notifications"
	"camlapse/internal/pipeline"
	"camlapse/internal/services"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline invocation (resume, capture, encode, merge, upload)",
		Long: `Run one pipeline invocation.

A leftover final video is uploaded first. Otherwise frames are captured
until the configured total is on disk, encoded in chunks, merged, and
uploaded. Interrupted runs resume from what is on disk. If another run
holds the lock this command exits successfully without doing anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runPipeline(cmd, ctx, cfg, "")
		},
	}
}

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Capture a single frame (tick mode), finishing the video once enough frames exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runPipeline(cmd, ctx, cfg, pipeline.ModeTick)
		},
	}
}

func runPipeline(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, mode string) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := ctx.logger(cfg)
	if err != nil {
		return err
	}
	controller, err := buildController(cfg, mode, logger, terminalPrompter(os.Stdin, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	res, err := controller.Run(cmd.Context())
	printResult(cmd.OutOrStdout(), res)
	notifyOutcome(cmd.Context(), notifications.NewService(cfg), logger, res, err)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Hint: %s\n", services.Hint(err))
		}
		return fmt.Errorf("run %s failed during %s: %w", res.RunID, res.Stage, err)
	}
	return nil
}

// notifyOutcome publishes the run result. Delivery failures are logged and
// never change the exit status.
func notifyOutcome(ctx context.Context, svc notifications.Service, logger *slog.Logger, res pipeline.Result, runErr error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	switch {
	case runErr != nil:
		if errors.Is(runErr, context.Canceled) {
			return
		}
		err = svc.NotifyFailed(ctx, res.Stage, runErr)
	case res.Outcome == pipeline.OutcomeComplete:
		err = svc.NotifyUploaded(ctx, res.VideoID, res.Frames)
	case res.Outcome == pipeline.OutcomeSuspended && res.Cause != nil:
		err = svc.NotifySuspended(ctx, res.VideoPath, res.Cause)
	}
	if err != nil {
		logger.Warn("notification failed", logging.Error(err))
	}
}

func printResult(out io.Writer, res pipeline.Result) {
	switch res.Outcome {
	case pipeline.OutcomeLocked:
		fmt.Fprintln(out, "Another run is in progress; nothing to do")
		return
	case pipeline.OutcomeCapturing:
		fmt.Fprintf(out, "Captured %d frame(s); %d on disk, waiting for more\n", res.Captured, res.Frames)
		return
	case pipeline.OutcomeComplete:
		if res.Cause != nil {
			fmt.Fprintf(out, "Uploaded video %s; cleanup incomplete: %v\n", res.VideoID, res.Cause)
			return
		}
		fmt.Fprintf(out, "Uploaded video %s; working directory cleaned\n", res.VideoID)
		return
	case pipeline.OutcomeSuspended:
		fmt.Fprintf(out, "Video kept at %s for the next run\n", res.VideoPath)
		if res.Cause != nil {
			fmt.Fprintf(out, "Upload did not finish: %v\n", res.Cause)
			fmt.Fprintf(out, "Hint: %s\n", services.Hint(res.Cause))
		}
		return
	}
	if res.RunID != "" {
		fmt.Fprintf(out, "Run %s %s\n", res.RunID, res.Outcome)
	}
}
