package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/frontier"
)

const (
	recentLimit = 10
	matchLimit  = 5
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints frontier status counts and the most recently touched entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			front, err := openExistingFrontier(cmd.Context(), e.cfg.Frontier.Path)
			if err != nil {
				return err
			}
			defer func() { _ = front.Close() }()
			return printStats(cmd.Context(), cmd.OutOrStdout(), front)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <url>",
		Short: "Prints one URL's frontier entry and entries sharing its prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			front, err := openExistingFrontier(cmd.Context(), e.cfg.Frontier.Path)
			if err != nil {
				return err
			}
			defer func() { _ = front.Close() }()
			return printStatus(cmd.Context(), cmd.OutOrStdout(), front, args[0])
		},
	}
}

// openExistingFrontier refuses to create an empty database when the operator
// points at the wrong path.
func openExistingFrontier(ctx context.Context, path string) (*frontier.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("frontier database %s: %w", path, err)
	}
	return frontier.Open(ctx, path, nil)
}

type frontierReader interface {
	Get(ctx context.Context, url string) (crawler.Entry, error)
	Search(ctx context.Context, prefix string, limit int) ([]crawler.Entry, error)
	Recent(ctx context.Context, limit int) ([]crawler.Entry, error)
	Counts(ctx context.Context) ([]crawler.StatusCount, error)
}

func printStats(ctx context.Context, out io.Writer, front frontierReader) error {
	counts, err := front.Counts(ctx)
	if err != nil {
		return err
	}
	recent, err := front.Recent(ctx, recentLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	var total, done int64
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	for _, c := range counts {
		total += c.Count
		if c.Status.Terminal() {
			done += c.Count
		}
		fmt.Fprintf(tw, "%s\t%d\n", c.Status, c.Count)
	}
	fmt.Fprintf(tw, "total\t%d\n", total)
	fmt.Fprintf(tw, "done\t%d\n", done)
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}

	fmt.Fprintf(out, "\nLast %d processed:\n", recentLimit)
	return printEntries(out, recent)
}

func printStatus(ctx context.Context, out io.Writer, front frontierReader, url string) error {
	entry, err := front.Get(ctx, url)
	switch {
	case err == nil:
		fmt.Fprintf(out, "%s\n  status: %s\n  depth: %d\n  last_updated: %s\n",
			entry.URL, entry.Status, entry.Depth, entry.LastUpdated.Format(time.RFC3339))
	case errors.Is(err, crawler.ErrNotFound):
		fmt.Fprintf(out, "%s is not in the frontier\n", url)
	default:
		return err
	}

	matches, err := front.Search(ctx, url, matchLimit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nEntries starting with %s:\n", url)
	return printEntries(out, matches)
}

func printEntries(out io.Writer, entries []crawler.Entry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tDEPTH\tUPDATED\tURL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Status, e.Depth, e.LastUpdated.Format(time.RFC3339), e.URL)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	return nil
}
