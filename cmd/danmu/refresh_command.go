package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"danmu/internal/api"
)

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	var (
		providerFlag string
		idFlag       string
		allFlag      bool
		tokenFlag    string
	)
	cmd := &cobra.Command{
		Use:   "refresh [item-id]",
		Short: "Force re-acquisition of a movie, season, or episode",
		Long: `Queue a forced refresh. The item is re-matched and re-downloaded even
when a comment document already exists.

  danmu refresh 8f3c...                      re-run the whole provider chain
  danmu refresh 8f3c... --provider tencent   only try tencent
  danmu refresh 8f3c... --provider tencent --id mzc00200abc
  danmu refresh 8f3c... --all                refresh the episode's whole season
  danmu refresh --token eyJpdGVtSWQiOi...    replay an encoded refresh request`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.RefreshRequest{
				ProviderID: strings.TrimSpace(providerFlag),
				ID:         strings.TrimSpace(idFlag),
				All:        allFlag,
				Token:      strings.TrimSpace(tokenFlag),
			}
			if len(args) == 1 {
				req.ItemID = strings.TrimSpace(args[0])
			}
			if req.Token == "" && req.ItemID == "" {
				return errors.New("an item id or --token is required")
			}
			if req.ID != "" && req.ProviderID == "" {
				return errors.New("--id requires --provider")
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Refresh(cmd.Context(), req)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func(out io.Writer, _ bool) error {
					_, err := fmt.Fprintln(out, describeRefresh(resp))
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&providerFlag, "provider", "p", "", "Provider name or key to use")
	cmd.Flags().StringVar(&idFlag, "id", "", "Provider media or episode id to use (requires --provider)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "Refresh every episode of the episode's season")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "Encoded refresh request")
	return cmd
}

func describeRefresh(resp api.RefreshResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Queued refresh for %s %s", strings.ToLower(resp.Kind), resp.ItemID)
	if resp.ProviderID != "" {
		fmt.Fprintf(&b, " via %s", resp.ProviderID)
		if resp.ID != "" {
			fmt.Fprintf(&b, " (id %s)", resp.ID)
		}
	}
	if resp.All {
		b.WriteString(", whole season")
	}
	return b.String()
}
