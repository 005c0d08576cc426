package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stereopipe/internal/disparity"
)

func newMaskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mask <disparity> <mask_out>",
		Short: "Derive a validity mask from an existing disparity map",
		Long: `Derive the validity mask from a float disparity map without running
the rest of the pipeline. Pixels with NaN disparity become 255, pixels
with a finite disparity become 0.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := disparity.DeriveMask(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%dx%d, %d of %d pixels invalid)\n",
				args[1], summary.Width, summary.Height, summary.Invalid, summary.Total)
			return nil
		},
	}
}
