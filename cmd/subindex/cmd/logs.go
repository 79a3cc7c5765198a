package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/logging"
	"github.com/Aman-CERP/subindex/internal/ui"
)

type logsOptions struct {
	file      string
	lines     int
	follow    bool
	level     string
	partition string
	pattern   string
}

func newLogsCmd(global *globalOptions) *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View subindex logs",
		Long: `Print the last lines of the subindex log, optionally following it.

Examples:
  subindex logs
  subindex logs -n 100 --level warn
  subindex logs -f --partition docs
  subindex logs --pattern "operate_|commit_"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: ~/.subindex/logs/subindex.log)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow new entries")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.partition, "partition", "", "Only entries for this partition")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Only lines matching this regular expression")

	return cmd
}

func runLogs(cmd *cobra.Command, global *globalOptions, opts logsOptions) error {
	out := cmd.OutOrStdout()
	path, err := logging.FindLogFile(opts.file)
	if err != nil {
		return err
	}

	cfg := logging.ViewerConfig{
		Level:     opts.level,
		Partition: opts.partition,
		NoColor:   ui.NewConfig(out, global.noColor).NoColor,
	}
	if opts.pattern != "" {
		re, err := regexp.Compile(opts.pattern)
		if err != nil {
			return ierrors.ValidationError(fmt.Sprintf("invalid pattern %q", opts.pattern), err)
		}
		cfg.Pattern = re
	}

	viewer := logging.NewViewer(cfg, out)
	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	followed := make(chan logging.LogEntry, 64)
	done := make(chan error, 1)
	go func() {
		done <- viewer.Follow(ctx, path, followed)
	}()
	for {
		select {
		case entry := <-followed:
			_, _ = fmt.Fprintln(out, viewer.FormatEntry(entry))
		case err := <-done:
			return err
		case <-ctx.Done():
			return <-done
		}
	}
}
