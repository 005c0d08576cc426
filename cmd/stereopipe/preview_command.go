package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stereopipe/internal/preview"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var thumbWidth int

	cmd := &cobra.Command{
		Use:   "preview <raster> <preview_out>",
		Short: "Render a color-mapped preview of a disparity map or mask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := preview.Render(args[0], args[1], thumbWidth)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Preview:   %s\n", result.PreviewPath)
			fmt.Fprintf(out, "Thumbnail: %s\n", result.ThumbPath)
			return nil
		},
	}

	cmd.Flags().IntVar(&thumbWidth, "thumb-width", preview.DefaultThumbWidth, "Maximum thumbnail width in pixels")
	return cmd
}
