package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize the upload account and store a refreshable credential",
		Long: `Run the interactive OAuth consent flow and store the resulting credential.

Use this once before the first upload, and again whenever a run reports
that the stored credential could not be refreshed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			auth, err := newAuthenticator(cfg, logger, terminalPrompter(os.Stdin, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if err := auth.Reauthorize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential stored at %s (%s)\n", cfg.Paths.TokenFile, auth.State())
			return nil
		},
	}
}
