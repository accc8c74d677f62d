package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"danmu/internal/api"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		kindFlag     string
		providerFlag string
		yearFlag     int
	)
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search every provider and rank the candidates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyword := strings.TrimSpace(strings.Join(args, " "))
			if keyword == "" {
				return errors.New("keyword is required")
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Search(cmd.Context(), keyword, kindFlag, providerFlag, yearFlag)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func(out io.Writer, colorize bool) error {
					_, err := fmt.Fprintln(out, renderSearch(resp, colorize))
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "", "Item kind hint (Movie, Series, Season, Episode)")
	cmd.Flags().StringVarP(&providerFlag, "provider", "p", "", "Only search this provider")
	cmd.Flags().IntVar(&yearFlag, "year", 0, "Release year used for the year check")
	return cmd
}

func renderSearch(resp api.SearchResponse, colorize bool) string {
	if len(resp.Results) == 0 && len(resp.Failures) == 0 {
		return fmt.Sprintf("No candidates for %q", resp.Keyword)
	}
	rows := make([][]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		year := ""
		if r.Year > 0 {
			year = strconv.Itoa(r.Year)
		}
		verdict := yesNo(r.Accepted)
		if !r.Accepted && r.Reason != "" {
			verdict = r.Reason
		}
		rows = append(rows, []string{
			r.Provider,
			r.ID,
			r.Name,
			year,
			strconv.Itoa(r.EpisodeCount),
			strconv.FormatFloat(r.Score, 'f', 2, 64),
			verdict,
		})
	}
	lines := []string{renderTable(
		[]string{"Provider", "ID", "Title", "Year", "Episodes", "Score", "Accepted"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		colorize,
	)}
	for _, f := range resp.Failures {
		kind := statusError
		if f.Throttled {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(f.Provider, kind, f.Error, colorize))
	}
	return strings.Join(lines, "\n")
}
