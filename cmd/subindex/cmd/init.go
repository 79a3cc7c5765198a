package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/subindex/internal/config"
	ierrors "github.com/Aman-CERP/subindex/internal/errors"
)

type initOptions struct {
	partitions []string
	force      bool
	restore    bool
}

func newInitCmd(global *globalOptions) *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and empty partitions",
		Long: `Initialize subindex in the project directory.

Writes .subindex.yaml and creates one empty partition per name. An existing
configuration is left alone unless --force is given, in which case it is
backed up first and every partition is recreated empty.

Examples:
  subindex init
  subindex init --partitions docs,code,tests
  subindex init --force --partitions a,b
  subindex init --restore`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, global, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.partitions, "partitions", "p", nil, "Partition names (default: the configured set)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite the configuration and empty every partition")
	cmd.Flags().BoolVar(&opts.restore, "restore", false, "Restore the most recent configuration backup")

	return cmd
}

func runInit(cmd *cobra.Command, global *globalOptions, opts initOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	dir, err := filepath.Abs(global.dir)
	if err != nil {
		return ierrors.ConfigError("failed to resolve project directory", err)
	}

	if opts.restore {
		return restoreConfig(cmd, dir)
	}

	existing := config.ProjectConfigPath(dir)
	if existing != "" && !opts.force {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("already initialized: %s", existing), nil).
			WithSuggestion("Use --force to recreate the index")
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if len(opts.partitions) > 0 {
		cfg.Store.Partitions = opts.partitions
	}
	if err := cfg.Validate(); err != nil {
		return ierrors.ConfigError("invalid configuration", err)
	}

	path := existing
	if path == "" {
		path = filepath.Join(dir, config.ProjectConfigName)
	} else {
		backup, err := config.Backup(path)
		if err != nil {
			return ierrors.ConfigError("failed to back up configuration", err)
		}
		_, _ = fmt.Fprintf(out, "Backed up %s to %s\n", filepath.Base(path), filepath.Base(backup))
	}
	if err := cfg.WriteYAML(path); err != nil {
		return ierrors.ConfigError("failed to write configuration", err)
	}

	p, err := openStoreAt(dir, cfg, cfg.StoreRoot(dir))
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if opts.force {
		if err := p.manager.CreateIndex(ctx); err != nil {
			return err
		}
		// Processes holding handles on the old contents must drop them.
		if err := p.manager.NotifyAllToClearCache(); err != nil {
			slog.Warn("init_notify_failed", slog.String("error", err.Error()))
		}
	} else if _, err := p.manager.VerifyIndex(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Initialized %d partitions in %s\n", len(cfg.Store.Partitions), p.store.Root())
	return nil
}

func restoreConfig(cmd *cobra.Command, dir string) error {
	path := config.ProjectConfigPath(dir)
	if path == "" {
		path = filepath.Join(dir, config.ProjectConfigName)
	}
	backups, err := config.ListBackups(path)
	if err != nil {
		return ierrors.ConfigError("failed to list backups", err)
	}
	if len(backups) == 0 {
		return ierrors.New(ierrors.ErrCodeConfigNotFound, "no configuration backup found", nil)
	}
	if err := config.Restore(path, backups[0]); err != nil {
		return ierrors.ConfigError("failed to restore configuration", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", filepath.Base(path), filepath.Base(backups[0]))
	return nil
}
