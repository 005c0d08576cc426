package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stereopipe/internal/journal"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage the run journal",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsClearCommand(ctx))
	runsCmd.AddCommand(newRunsHealthCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.requireJournal()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Journal is empty")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					strconv.FormatInt(run.ID, 10),
					shortRunID(run.RunID),
					string(run.Status),
					run.ProgressStage,
					run.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Run", "Status", "Stage", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.requireJournal()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := lookupRun(cmd, store, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:        %s\n", run.RunID)
			fmt.Fprintf(out, "Status:     %s\n", run.Status)
			fmt.Fprintf(out, "Left:       %s\n", run.LeftInput)
			fmt.Fprintf(out, "Right:      %s\n", run.RightInput)
			fmt.Fprintf(out, "Disparity:  %s\n", run.DisparityPath)
			fmt.Fprintf(out, "Mask:       %s\n", run.MaskPath)
			fmt.Fprintf(out, "Workspace:  %s\n", run.WorkspaceDir)
			fmt.Fprintf(out, "Parameters: disp [%d, %d] window %d p1 %g p2 %g lr %g\n",
				run.Params.MinDisparity, run.Params.MaxDisparity, run.Params.WindowSize,
				run.Params.P1, run.Params.P2, run.Params.LRThreshold)
			if run.ProgressMessage != "" {
				fmt.Fprintf(out, "Progress:   %s\n", run.ProgressMessage)
			}
			if run.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:      %s\n", run.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:    %s\n", run.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Updated:    %s\n", run.UpdatedAt.Local().Format(time.DateTime))
			return nil
		},
	}
}

func newRunsClearCommand(ctx *commandContext) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and failed runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.requireJournal()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Clear(cmd.Context(), clearAll)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every run, including those still in flight")
	return cmd
}

func newRunsHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregated run counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.requireJournal()
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			rows := [][]string{
				{"total", strconv.Itoa(summary.Total)},
				{"pending", strconv.Itoa(summary.Pending)},
				{"active", strconv.Itoa(summary.Active)},
				{"completed", strconv.Itoa(summary.Completed)},
				{"failed", strconv.Itoa(summary.Failed)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"State", "Runs"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

// lookupRun resolves a journal row by numeric ID or run UUID (full or prefix).
func lookupRun(cmd *cobra.Command, store *journal.Store, arg string) (*journal.Run, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return store.Get(cmd.Context(), id)
	}
	if run, err := store.GetByRunID(cmd.Context(), arg); err == nil {
		return run, nil
	}
	runs, err := store.List(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if len(arg) >= 8 && len(run.RunID) >= len(arg) && run.RunID[:len(arg)] == arg {
			return run, nil
		}
	}
	return nil, fmt.Errorf("no run matches %q", arg)
}

func shortRunID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
