package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/subindex/internal/store"
	"github.com/Aman-CERP/subindex/internal/ui"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show partition health",
		Long: `Show the generation, document count, size and lock state of every
partition.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject(global)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			info := collectStatus(cmd.Context(), p.store)
			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.NewConfig(cmd.OutOrStdout(), global.noColor).NoColor)
			if jsonOutput {
				return renderer.RenderJSON(info)
			}
			return renderer.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

// collectStatus gathers per-partition stats. A partition whose stats
// cannot be read is reported with its error rather than failing the
// whole status.
func collectStatus(ctx context.Context, st *store.Store) ui.StatusInfo {
	info := ui.StatusInfo{Root: st.Root(), Healthy: true}
	for _, part := range st.SubIndexes() {
		ps := ui.PartitionStatus{Name: part}
		stats, err := st.Stats(ctx, part)
		if err != nil {
			ps.Error = err.Error()
		} else {
			ps.Exists = stats.Exists
			ps.Generation = stats.Generation
			ps.Documents = stats.DocCount
			ps.Locked = stats.Locked
		}
		ps.SizeBytes = segmentsSize(filepath.Join(st.Root(), part, store.SegmentsFile))

		info.Documents += ps.Documents
		info.TotalSize += ps.SizeBytes
		if ps.Error != "" || !ps.Exists || ps.Locked {
			info.Healthy = false
		}
		info.Partitions = append(info.Partitions, ps)
	}
	return info
}

// segmentsSize sums the database file and its write-ahead log.
func segmentsSize(path string) int64 {
	var total int64
	for _, p := range []string{path, path + "-wal"} {
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
		}
	}
	return total
}
