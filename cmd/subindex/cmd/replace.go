package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/manager"
	"github.com/Aman-CERP/subindex/internal/store"
	"github.com/Aman-CERP/subindex/internal/ui"
)

type replaceOptions struct {
	from    string
	retries int
	noWait  bool
	quiet   bool
}

func newReplaceCmd(global *globalOptions) *cobra.Command {
	var opts replaceOptions

	cmd := &cobra.Command{
		Use:   "replace [path...]",
		Short: "Swap the whole index for new contents",
		Long: `Replace the contents of every partition in one locked operation.

The new contents are either built from paths into a scratch index, or
taken from an existing index root given with --from. All write locks are
held for the whole operation; other processes are notified and, when
configured, given cache_invalidation_wait to drop their handles before the
swap.

Lock timeouts are retried with backoff up to --retries times.

Examples:
  subindex replace docs/
  subindex replace --from /tmp/rebuilt-index
  subindex replace --retries 5 corpus.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplace(cmd, global, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", "", "Copy from an existing index root instead of building one")
	cmd.Flags().IntVar(&opts.retries, "retries", 3, "Retries on lock timeout")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Skip the wait for other processes to drop their caches")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print errors and the summary")

	return cmd
}

func runReplace(cmd *cobra.Command, global *globalOptions, paths []string, opts replaceOptions) error {
	ctx := cmd.Context()
	start := time.Now()
	if (opts.from == "") == (len(paths) == 0) {
		return ierrors.ValidationError("give either paths or --from", nil)
	}

	target, err := openProject(global)
	if err != nil {
		return err
	}
	defer func() { _ = target.Close() }()
	if err := target.requireIndex(ctx); err != nil {
		return err
	}
	if opts.noWait {
		target.manager.SetWaitForCacheInvalidationBeforeSecondStep(false)
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), global.noColor)
	uiCfg.Quiet = opts.quiet
	reporter := ui.NewReporter(uiCfg)

	sourceRoot := opts.from
	if sourceRoot == "" {
		scratch, err := os.MkdirTemp(filepath.Dir(target.store.Root()), ".subindex-replace-")
		if err != nil {
			return ierrors.StoreIOError("", "failed to create scratch index", err)
		}
		defer func() { _ = os.RemoveAll(scratch) }()
		sourceRoot = scratch
	} else if !filepath.IsAbs(sourceRoot) {
		sourceRoot = filepath.Join(target.dir, sourceRoot)
	}

	source, err := openStoreAt(target.dir, target.cfg, sourceRoot)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	var documents int
	build := manager.ReplaceFunc(func() error {
		if opts.from != "" {
			return source.requireIndex(ctx)
		}
		reporter.UpdateProgress(ui.ProgressEvent{Stage: ui.StageBuilding, Message: "building scratch index"})
		n, err := buildSource(ctx, source, target.dir, paths)
		documents = n
		return err
	})

	retry := ierrors.DefaultRetryConfig()
	retry.MaxRetries = opts.retries
	attempt := 0
	err = ierrors.Retry(ctx, retry, func() error {
		attempt++
		if attempt > 1 {
			reporter.AddError(ui.ErrorEvent{Err: fmt.Errorf("retrying after lock timeout (attempt %d)", attempt), IsWarn: true})
		}
		reporter.UpdateProgress(ui.ProgressEvent{Stage: ui.StageReplacing, Message: "swapping partitions"})
		return target.manager.Replace(ctx, source.manager, build)
	})
	if err != nil {
		return err
	}

	if opts.from != "" {
		for _, p := range target.manager.SubIndexes() {
			stats, err := target.store.Stats(ctx, p)
			if err == nil {
				documents += stats.DocCount
			}
		}
	}
	slog.Info("replace_complete",
		slog.Int("documents", documents),
		slog.Int("attempts", attempt),
		slog.Duration("duration", time.Since(start)))
	reporter.Complete(ui.CompletionStats{
		Documents:  documents,
		Partitions: len(target.manager.SubIndexes()),
		Duration:   time.Since(start),
	})
	return nil
}

// buildSource creates the scratch index and fills it with the documents at
// paths. It runs again on every replace attempt, starting from empty.
func buildSource(ctx context.Context, source *project, base string, paths []string) (int, error) {
	if err := source.manager.CreateIndex(ctx); err != nil {
		return 0, err
	}
	docs, err := readDocuments(base, paths)
	if err != nil {
		return 0, err
	}
	groups := groupByPartition(source.store, docs)

	actions := make([]manager.CommitAction, 0, len(groups))
	for part, batch := range groups {
		actions = append(actions, func() error {
			return source.manager.Write(ctx, part, func(w *store.Writer) error {
				w.Add(batch...)
				return nil
			})
		})
	}
	if err := source.manager.ExecuteCommit(actions...); err != nil {
		return 0, err
	}
	return len(docs), nil
}
