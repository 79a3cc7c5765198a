package cmd

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/manager"
	"github.com/Aman-CERP/subindex/internal/store"
	"github.com/Aman-CERP/subindex/internal/ui"
)

type indexOptions struct {
	rebuild  bool
	deletes  []string
	noNotify bool
	quiet    bool
}

func newIndexCmd(global *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Add documents to the index",
		Long: `Add or update documents. Each document goes to the partition its ID
hashes to; the partitions are committed as one batch, concurrently when
the configuration allows it.

Files become one document each, keyed by their project-relative path.
A .jsonl file holds one {"id": ..., "content": ...} object per line.

Other processes are notified to drop their cached handles once the batch
is committed.

Examples:
  subindex index docs/
  subindex index corpus.jsonl
  subindex index --rebuild docs/
  subindex index --delete docs/old.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, global, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.rebuild, "rebuild", false, "Empty each written partition before adding")
	cmd.Flags().StringSliceVar(&opts.deletes, "delete", nil, "Document IDs to delete")
	cmd.Flags().BoolVar(&opts.noNotify, "no-notify", false, "Do not signal other processes after committing")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print errors and the summary")

	return cmd
}

func runIndex(cmd *cobra.Command, global *globalOptions, paths []string, opts indexOptions) error {
	ctx := cmd.Context()
	start := time.Now()
	if len(paths) == 0 && len(opts.deletes) == 0 {
		return ierrors.ValidationError("nothing to index: give paths or --delete", nil)
	}

	p, err := openProject(global)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	if err := p.requireIndex(ctx); err != nil {
		return err
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), global.noColor)
	uiCfg.Quiet = opts.quiet
	reporter := ui.NewReporter(uiCfg)

	reporter.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: fmt.Sprintf("reading %d paths", len(paths))})
	docs, err := readDocuments(p.dir, paths)
	if err != nil {
		return err
	}
	adds := groupByPartition(p.store, docs)
	deletes := make(map[string][]string)
	for _, id := range opts.deletes {
		part := p.store.PartitionFor(id)
		deletes[part] = append(deletes[part], id)
	}

	touched := make([]string, 0, len(adds)+len(deletes))
	for _, part := range p.manager.SubIndexes() {
		_, a := adds[part]
		_, d := deletes[part]
		if a || d || opts.rebuild {
			touched = append(touched, part)
		}
	}
	sort.Strings(touched)

	var done atomic.Int64
	actions := make([]manager.CommitAction, 0, len(touched))
	for _, part := range touched {
		actions = append(actions, func() error {
			err := p.manager.Write(ctx, part, func(w *store.Writer) error {
				if opts.rebuild {
					w.DeleteAll()
				}
				w.Delete(deletes[part]...)
				w.Add(adds[part]...)
				return nil
			})
			if err != nil {
				reporter.AddError(ui.ErrorEvent{Partition: part, Err: err})
				return err
			}
			reporter.UpdateProgress(ui.ProgressEvent{
				Stage:     ui.StageWriting,
				Current:   int(done.Add(1)),
				Total:     len(touched),
				Partition: part,
				Message:   fmt.Sprintf("%d added, %d deleted", len(adds[part]), len(deletes[part])),
			})
			return nil
		})
	}

	if err := p.manager.ExecuteCommit(actions...); err != nil {
		return err
	}

	if !opts.noNotify {
		if err := p.manager.NotifyAllToClearCache(); err != nil {
			reporter.AddError(ui.ErrorEvent{Err: err, IsWarn: true})
		}
	}

	slog.Info("index_complete",
		slog.Int("documents", len(docs)),
		slog.Int("partitions", len(touched)),
		slog.Duration("duration", time.Since(start)))
	reporter.Complete(ui.CompletionStats{
		Documents:  len(docs),
		Partitions: len(touched),
		Duration:   time.Since(start),
	})
	return nil
}
