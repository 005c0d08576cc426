package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stereopipe/internal/pipeline"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove stale run workspaces from the work directory",
		Long: `Remove leftover per-run workspaces. Workspaces referenced by runs that
are still in flight are kept. Fails if a run is currently executing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openJournal()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			runner := pipeline.New(cfg, store, nil)
			removed, err := runner.Clean(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d workspace(s)\n", removed)
			return nil
		},
	}
}
