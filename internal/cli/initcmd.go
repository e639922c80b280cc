package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"runbook/internal/manifest"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter manifest",
		Long:  "Init writes the standard cargo task set to the manifest path. It refuses to overwrite an existing manifest.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(a.file)
			if err != nil {
				return manifestErrf("resolve manifest path: %v", err)
			}
			if _, err := os.Stat(path); err == nil {
				return invalidf("refusing to overwrite %s", path)
			}
			if err := renameio.WriteFile(path, []byte(manifest.Scaffold), 0o644); err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
