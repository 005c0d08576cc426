package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stereopipe/internal/services/sift"
)

func newSiftCommand(ctx *commandContext) *cobra.Command {
	var roiSpec string
	var roiRightSpec string
	var maxPoints int
	var matchThresh float64

	cmd := &cobra.Command{
		Use:   "sift <left> <right> <matches_out>",
		Short: "Compute sparse SIFT matches between an image pair",
		Long: `Compute a sparse set of SIFT matches between two images over a region
of interest: extract keypoints with sift_roi, match descriptors with
match_cli, and filter outliers with a fundamental-matrix RANSAC.

When too few matches survive filtering, extraction retries with a
halved detection threshold. The matches file holds one match per line,
ordered x1 y1 x2 y2 in full-image coordinates.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			leftROI, err := parseROI(roiSpec)
			if err != nil {
				return fmt.Errorf("--roi: %w", err)
			}
			rightROI := leftROI
			if roiRightSpec != "" {
				if rightROI, err = parseROI(roiRightSpec); err != nil {
					return fmt.Errorf("--roi-right: %w", err)
				}
			}

			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}

			client := sift.NewClient(cfg, logger)
			count, err := client.MatchPair(cmd.Context(), sift.Request{
				Left:        args[0],
				Right:       args[1],
				LeftROI:     leftROI,
				RightROI:    rightROI,
				MatchesOut:  args[2],
				MaxPoints:   maxPoints,
				MatchThresh: matchThresh,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d matches)\n", args[2], count)
			return nil
		},
	}

	cmd.Flags().StringVar(&roiSpec, "roi", "", "Region of interest in the left image as x,y,w,h (required)")
	cmd.Flags().StringVar(&roiRightSpec, "roi-right", "", "Region of interest in the right image (defaults to --roi)")
	cmd.Flags().IntVar(&maxPoints, "max-points", 0, "Maximum keypoints per image (default from config)")
	cmd.Flags().Float64Var(&matchThresh, "match-thresh", 0, "Descriptor distance ratio threshold (default from config)")
	_ = cmd.MarkFlagRequired("roi")
	return cmd
}

// parseROI parses an "x,y,w,h" region spec.
func parseROI(spec string) (sift.ROI, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return sift.ROI{}, fmt.Errorf("%q is not of the form x,y,w,h", spec)
	}
	values := make([]int, 4)
	for i, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return sift.ROI{}, fmt.Errorf("%q is not an integer", part)
		}
		values[i] = value
	}
	roi := sift.ROI{X: values[0], Y: values[1], W: values[2], H: values[3]}
	if roi.W <= 0 || roi.H <= 0 {
		return sift.ROI{}, fmt.Errorf("width and height must be positive, got %dx%d", roi.W, roi.H)
	}
	return roi, nil
}
