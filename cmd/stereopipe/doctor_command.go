package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stereopipe/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, disk space, and external binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			results = append(results, journalCheck(cmd, ctx))

			rows := make([][]string, 0, len(results))
			failed := 0
			for _, result := range results {
				state := "ok"
				if !result.Passed {
					state = "FAIL"
					failed++
				}
				rows = append(rows, []string{result.Name, state, result.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Check", "Status", "Detail"},
				rows,
				nil,
			))

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All checks passed")
			return nil
		},
	}
}

// journalCheck verifies the run journal opens and reports its row counts.
func journalCheck(cmd *cobra.Command, ctx *commandContext) preflight.Result {
	const name = "Run journal"

	store, err := ctx.openJournal()
	if err != nil {
		return preflight.Result{Name: name, Detail: err.Error()}
	}
	if store == nil {
		return preflight.Result{Name: name, Passed: true, Detail: "disabled in configuration"}
	}
	defer store.Close()

	summary, err := store.Health(cmd.Context())
	if err != nil {
		return preflight.Result{Name: name, Detail: err.Error()}
	}
	return preflight.Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("%s (%d runs, %d active)", store.Path(), summary.Total, summary.Active),
	}
}
