package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"danmu/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and acquisition counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd, ctx, status, func(out io.Writer, colorize bool) error {
					_, err := fmt.Fprintln(out, renderStatus(status, colorize))
					return err
				})
			})
		},
	}
}

func renderStatus(status api.DaemonStatus, colorize bool) string {
	lines := []string{renderSectionHeader("System Status", colorize)}
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	if status.StartedAt != "" {
		lines = append(lines, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
	}
	lines = append(lines,
		renderStatusLine("Library", statusInfo, status.LibraryBackend, colorize),
		renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize),
	)
	providerKind := statusOK
	if len(status.Providers) == 0 {
		providerKind = statusError
	}
	lines = append(lines, renderStatusLine("Providers", providerKind, strconv.Itoa(len(status.Providers))+" enabled", colorize))

	lines = append(lines, "", renderSectionHeader("Acquisition", colorize))
	pendingKind := statusInfo
	if status.PendingEvents > 0 {
		pendingKind = statusWarn
	}
	lines = append(lines,
		renderStatusLine("Pending events", pendingKind, strconv.Itoa(status.PendingEvents), colorize),
		renderStatusLine("Pending adds", statusInfo, strconv.Itoa(status.PendingAdds), colorize),
		renderStatusLine("Held downloads", statusInfo, strconv.Itoa(status.HeldDownloads), colorize),
	)
	if status.LastBatchAt != "" {
		lines = append(lines, renderStatusLine("Last batch", statusInfo, status.LastBatchAt, colorize))
	}

	stats := status.Stats
	lines = append(lines, "", renderTable(
		[]string{"Batches", "Downloads", "Skipped", "Failures", "Throttled"},
		[][]string{{
			strconv.FormatInt(stats.Batches, 10),
			strconv.FormatInt(stats.Downloads, 10),
			strconv.FormatInt(stats.Skipped, 10),
			strconv.FormatInt(stats.Failures, 10),
			strconv.FormatInt(stats.Throttled, 10),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
		colorize,
	))
	return strings.Join(lines, "\n")
}

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List enabled providers in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Providers(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func(out io.Writer, colorize bool) error {
					rows := make([][]string, 0, len(resp.Providers))
					for i, p := range resp.Providers {
						rows = append(rows, []string{strconv.Itoa(i + 1), p.Name, p.Key})
					}
					_, err := fmt.Fprintln(out, renderTable([]string{"#", "Provider", "Key"}, rows, []columnAlignment{alignRight}, colorize))
					return err
				})
			})
		},
	}
}
