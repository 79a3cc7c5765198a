package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/subindex/pkg/version"
)

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	var jsonOutput bool
	var shortOutput bool
	var engineOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information including git commit, build date, and Go version.

With --engine, also print the versions of the storage and search libraries
the binary was linked against. Stores written by one engine version are
not guaranteed to load under another.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if shortOutput {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, version.String()); err != nil {
				return err
			}
			if !engineOutput {
				return nil
			}
			for _, line := range version.EngineLines(version.Engine()) {
				if _, err := fmt.Fprintln(out, "  "+line); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")
	cmd.Flags().BoolVar(&engineOutput, "engine", false, "Also list storage engine library versions")

	return cmd
}
