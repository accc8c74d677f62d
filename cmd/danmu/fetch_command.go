package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"danmu/internal/api"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		providerFlag string
		outputFlag   string
	)
	cmd := &cobra.Command{
		Use:   "fetch <item-id>",
		Short: "Print the stored comment document for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID := strings.TrimSpace(args[0])
			if itemID == "" {
				return errors.New("item id is required")
			}
			return ctx.withClient(func(client *api.Client) error {
				data, err := client.Danmu(cmd.Context(), itemID, providerFlag)
				if err != nil {
					return err
				}
				target := strings.TrimSpace(outputFlag)
				if target == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", target, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&providerFlag, "provider", "p", "", "Provider name or key (defaults to the first stored one)")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Write the document to this file instead of stdout")
	return cmd
}
