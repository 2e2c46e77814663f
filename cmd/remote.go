package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage"
)

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Inspects the configured object store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ls [prefix]",
		Short: "Lists objects under a prefix, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.cfg.ValidateStorage(); err != nil {
				return fmt.Errorf("invalid storage config: %w", err)
			}
			prefix := e.cfg.Crawl.ArtifactPrefix
			if len(args) == 1 {
				prefix = args[0]
			}
			store, err := storage.New(cmd.Context(), e.cfg.Storage)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return listRemote(cmd.Context(), cmd.OutOrStdout(), store, prefix)
		},
	})
	return cmd
}

func listRemote(ctx context.Context, out io.Writer, store crawler.ObjectStore, prefix string) error {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q: %w", prefix, err)
	}
	if len(objects) == 0 {
		fmt.Fprintf(out, "no objects under %q\n", prefix)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODIFIED\tSIZE\tKEY")
	for _, o := range objects {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", o.LastModified.Format(time.RFC3339), o.Size, o.Key)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	fmt.Fprintf(out, "%d objects\n", len(objects))
	return nil
}
