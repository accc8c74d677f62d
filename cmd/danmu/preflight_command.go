package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"danmu/internal/preflight"
)

type preflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, the library backend, and provider endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			payload := make([]preflightResult, 0, len(results))
			for _, r := range results {
				payload = append(payload, preflightResult(r))
			}
			if err := emit(cmd, ctx, payload, func(out io.Writer, colorize bool) error {
				fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
				return nil
			}); err != nil {
				return err
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
}
