package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/preflight"
)

type doctorOptions struct {
	verbose    bool
	jsonOutput bool
	repair     bool
}

func newDoctorCmd(global *globalOptions) *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and index health",
		Long: `Run diagnostics on the store and its host.

Checks:
  - Disk space on the store filesystem (100MB minimum)
  - Write permissions in the store root
  - Open file limit, sized for the partition count
  - Segments present for every partition
  - Write locks left behind by crashed writers

With --repair, missing partitions are created and existing ones are
checked for corruption.`,
		Example: `  subindex doctor
  subindex doctor --verbose
  subindex doctor --repair --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, global, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.repair, "repair", false, "Create missing partitions and verify existing ones")

	return cmd
}

func runDoctor(cmd *cobra.Command, global *globalOptions, opts doctorOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	p, err := openProject(global)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	checker := preflight.New(
		preflight.WithPartitions(len(p.manager.SubIndexes())),
		preflight.WithVerbose(opts.verbose),
		preflight.WithOutput(out))
	results := checker.RunAll(ctx, p.store.Root())
	results = append(results, indexChecks(cmd, p, opts.repair)...)

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"status": checker.SummaryStatus(results),
			"checks": results,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return ierrors.New(ierrors.ErrCodeInternal, "doctor found critical problems", nil)
	}
	return nil
}

func indexChecks(cmd *cobra.Command, p *project, repair bool) []preflight.CheckResult {
	ctx := cmd.Context()

	segments := preflight.CheckResult{Name: "segments", Required: true}
	if repair {
		created, err := p.manager.VerifyIndex(ctx)
		switch {
		case err != nil:
			segments.Status = preflight.StatusFail
			segments.Message = "integrity check failed"
			segments.Details = ierrors.FormatForCLI(err)
		case created:
			segments.Status = preflight.StatusWarn
			segments.Message = "missing partitions were created empty"
		default:
			segments.Status = preflight.StatusPass
			segments.Message = "every partition passed the integrity check"
		}
	} else if err := p.requireIndex(ctx); err != nil {
		segments.Status = preflight.StatusFail
		segments.Message = "index missing or incomplete"
		segments.Details = "Run 'subindex init' or 'subindex doctor --repair'"
	} else {
		segments.Status = preflight.StatusPass
		segments.Message = fmt.Sprintf("%d partitions", len(p.manager.SubIndexes()))
	}

	locks := preflight.CheckResult{Name: "write_locks", Status: preflight.StatusPass, Message: "no write lock held"}
	var held []string
	for _, part := range p.manager.SubIndexes() {
		locked, err := p.manager.IsPartitionLocked(part)
		if err != nil {
			locks.Status = preflight.StatusWarn
			locks.Message = "failed to inspect locks"
			locks.Details = err.Error()
			break
		}
		if locked {
			held = append(held, part)
		}
	}
	if len(held) > 0 {
		locks.Status = preflight.StatusWarn
		locks.Message = fmt.Sprintf("held on %v", held)
		locks.Details = "If no writer is running, release them with 'subindex unlock'"
	}

	return []preflight.CheckResult{segments, locks}
}
