package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stereopipe/internal/journal"
	"stereopipe/internal/pipeline"
)

const runArgCount = 10

func newRunCommand(ctx *commandContext) *cobra.Command {
	var noEqualize bool
	var keepWorkspace bool

	cmd := &cobra.Command{
		Use:   "run <left> <right> <disparity_out> <mask_out> <min_disp> <max_disp> <window> <p1> <p2> <lr_threshold>",
		Short: "Run the full stereo matching pipeline on an image pair",
		Long: `Run the full stereo matching pipeline: normalize the input formats,
equalize illumination, compute the disparity map with the external
semi-global matcher, and derive the validity mask.

Arguments:
  left           left image (TIFF inputs are converted to 8-bit PNG)
  right          right image
  disparity_out  destination for the float disparity map
  mask_out       destination for the validity mask (255 = no disparity)
  min_disp       minimum disparity searched, in pixels
  max_disp       maximum disparity searched, in pixels
  window         matching window size (odd, >= 1)
  p1             penalty for disparity changes of 1 between neighbors
  p2             penalty for larger disparity jumps (> p1)
  lr_threshold   left-right cross check tolerance, in pixels`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < runArgCount {
				return fmt.Errorf("expected %d arguments, got %d\n\n%s",
					runArgCount, len(args), cmd.UsageString())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			params, err := parseMatchParams(args[4:runArgCount])
			if err != nil {
				return err
			}

			logger, err := ctx.newLogger()
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

			runner := pipeline.New(cfg, store, logger)
			run, err := runner.Execute(cmd.Context(), pipeline.Request{
				LeftInput:     args[0],
				RightInput:    args[1],
				DisparityOut:  args[2],
				MaskOut:       args[3],
				Params:        params,
				Equalize:      cfg.Preprocess.Equalize && !noEqualize,
				KeepWorkspace: keepWorkspace,
			})
			if err != nil {
				if run != nil && run.WorkspaceDir != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "workspace kept for inspection: %s\n", run.WorkspaceDir)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Disparity map: %s\n", run.DisparityPath)
			fmt.Fprintf(out, "Validity mask: %s\n", run.MaskPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noEqualize, "no-equalize", false, "Skip illumination equalization for this run")
	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "Keep the run workspace after a successful run")
	return cmd
}

// parseMatchParams converts the six numeric positionals, naming the offending
// argument on failure.
func parseMatchParams(args []string) (journal.Params, error) {
	var params journal.Params
	ints := []struct {
		name string
		dst  *int
	}{
		{"min_disp", &params.MinDisparity},
		{"max_disp", &params.MaxDisparity},
		{"window", &params.WindowSize},
	}
	for i, arg := range ints {
		value, err := strconv.Atoi(args[i])
		if err != nil {
			return params, fmt.Errorf("argument %s: %q is not an integer", arg.name, args[i])
		}
		*arg.dst = value
	}
	floats := []struct {
		name string
		dst  *float64
	}{
		{"p1", &params.P1},
		{"p2", &params.P2},
		{"lr_threshold", &params.LRThreshold},
	}
	for i, arg := range floats {
		value, err := strconv.ParseFloat(args[3+i], 64)
		if err != nil {
			return params, fmt.Errorf("argument %s: %q is not a number", arg.name, args[3+i])
		}
		*arg.dst = value
	}
	if params.MaxDisparity <= params.MinDisparity {
		return params, fmt.Errorf("max_disp (%d) must be greater than min_disp (%d)",
			params.MaxDisparity, params.MinDisparity)
	}
	return params, nil
}
