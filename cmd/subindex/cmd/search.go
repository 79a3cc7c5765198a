package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/subindex/internal/search"
	"github.com/Aman-CERP/subindex/internal/store"
	"github.com/Aman-CERP/subindex/internal/ui"
)

type searchOptions struct {
	limit      int
	partitions []string
	format     string
}

func newSearchCmd(global *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search every partition, or the ones given with --partition, and print
the best hits, highest score first.

Examples:
  subindex search "write lock"
  subindex search handleRequest --limit 5
  subindex search "cache invalidation" --partition docs --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, global, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", search.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringSliceVarP(&opts.partitions, "partition", "p", nil, "Restrict to partitions (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, global *globalOptions, query string, opts searchOptions) error {
	ctx := cmd.Context()
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q: use text or json", opts.format)
	}

	p, err := openProject(global)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	if err := p.requireIndex(ctx); err != nil {
		return err
	}

	searcher := search.New(p.manager,
		search.WithCacheSize(p.cfg.Cache.ResultCacheSize),
		search.WithLogger(p.logger))
	hits, err := searcher.Search(ctx, query, search.Options{Limit: opts.limit, Partitions: opts.partitions})
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.String("query", query), slog.Int("results", len(hits)))

	if opts.format == "json" {
		if hits == nil {
			hits = []store.Hit{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	return printHits(cmd, global, query, hits)
}

func printHits(cmd *cobra.Command, global *globalOptions, query string, hits []store.Hit) error {
	out := cmd.OutOrStdout()
	styles := ui.GetStyles(ui.NewConfig(out, global.noColor).NoColor)

	if len(hits) == 0 {
		_, _ = fmt.Fprintf(out, "No results for %q\n", query)
		return nil
	}
	for i, hit := range hits {
		_, _ = fmt.Fprintf(out, "%d. %s %s\n", i+1,
			styles.Header.Render(hit.ID),
			styles.Dim.Render(fmt.Sprintf("[%s] %.3f", hit.Partition, hit.Score)))
		if text := snippet(hit.Content, 160); text != "" {
			_, _ = fmt.Fprintf(out, "   %s\n", text)
		}
	}
	return nil
}

// snippet flattens whitespace and truncates content to limit runes.
func snippet(content string, limit int) string {
	flat := strings.Join(strings.Fields(content), " ")
	runes := []rune(flat)
	if len(runes) <= limit {
		return flat
	}
	return string(runes[:limit]) + "..."
}
