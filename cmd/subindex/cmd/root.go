// Package cmd provides the CLI commands for subindex.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/profiling"
	"github.com/Aman-CERP/subindex/pkg/version"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	dir     string
	debug   bool
	noColor bool
	profile profiling.Config
}

// NewRootCmd creates the root command for the subindex CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	var loggingCleanup func()
	var profiler *profiling.Session

	cmd := &cobra.Command{
		Use:   "subindex",
		Short: "Partitioned full-text index with shared handle caching",
		Long: `subindex keeps a full-text index split into fixed partitions.

Readers in any number of processes share cached partition handles;
writers and replace operations coordinate through per-partition write
locks and marker files, so every process observes new contents on its
next scheduled check.

Run 'subindex init' in your project directory to get started.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cleanup, err := setupLogging(opts)
			if err != nil {
				return err
			}
			loggingCleanup = cleanup

			if opts.profile.Enabled() {
				if profiler, err = profiling.Start(opts.profile); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			if profiler != nil {
				err = profiler.Stop()
				profiler = nil
			}
			if loggingCleanup != nil {
				slog.Debug("logging_stopped")
				loggingCleanup()
				loggingCleanup = nil
			}
			return err
		},
	}

	cmd.SetVersionTemplate("subindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "Project directory")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Log at debug level and mirror logs to stderr")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newReplaceCmd(opts))
	cmd.AddCommand(newNotifyCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newUnlockCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints failures in CLI form.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, ierrors.FormatForCLI(err))
	}
	return err
}
