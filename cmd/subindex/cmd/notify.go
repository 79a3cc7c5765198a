package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNotifyCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Tell every process to drop its cached handles",
		Long: `Touch the marker file of every partition. Each process sharing the
index drops its cached handles on its next scheduled check (see 'subindex
watch'). Use it after changing partition files by other means.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject(global)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			if err := p.manager.NotifyAllToClearCache(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Notified %d partitions\n", len(p.manager.SubIndexes()))
			return nil
		},
	}
}
