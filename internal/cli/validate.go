package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"runbook/internal/graph"
)

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest for errors",
		Long: `Validate loads the manifest and checks every invariant: unique task
names and aliases, non-empty command lists, resolvable dependencies, and an
acyclic dependency graph.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.loadManifest()
			if err != nil {
				return err
			}
			// Manifest validation passed on load; the graph adds cycle checks.
			if _, err := graph.FromManifest(m); err != nil {
				return manifestErrf("%v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tasks, ok\n", a.file, len(m.Tasks))
			return nil
		},
	}
}
