package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUnlockCmd(global *globalOptions) *cobra.Command {
	var partitions []string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Forcibly release partition write locks",
		Long: `Release the write lock of every partition, or of the ones given with
--partition. Only use this after a writer crashed while holding a lock;
releasing a live writer's lock lets two writers modify a partition.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject(global)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			out := cmd.OutOrStdout()
			if len(partitions) == 0 {
				if err := p.manager.ReleaseLocks(); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Released locks on %d partitions\n", len(p.manager.SubIndexes()))
				return nil
			}
			for _, part := range partitions {
				if err := p.manager.ReleaseLock(part); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Released lock on %s\n", part)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&partitions, "partition", "p", nil, "Partitions to unlock (default: all)")
	return cmd
}
