// Package matching runs the external semi-global matcher over the prepared
// stereo pair and verifies that the disparity map was actually produced.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"stereopipe/internal/config"
	"stereopipe/internal/fileutil"
	"stereopipe/internal/journal"
	"stereopipe/internal/logging"
	"stereopipe/internal/services"
	"stereopipe/internal/services/sgbm"
	"stereopipe/internal/stage"
)

// Handler implements the stereo matching stage.
type Handler struct {
	client *sgbm.Client
	binary string
	logger *slog.Logger
}

// New builds the stage handler.
func New(cfg *config.Config, client *sgbm.Client, logger *slog.Logger) *Handler {
	binary := config.Default().Tools.SGBM
	if cfg != nil {
		binary = cfg.Tools.SGBM
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		client: client,
		binary: binary,
		logger: logger.With(logging.String(logging.FieldComponent, "match")),
	}
}

// Prepare verifies the prepared inputs and the disparity destination.
func (h *Handler) Prepare(_ context.Context, run *journal.Run) error {
	for _, side := range []struct {
		label string
		path  string
	}{
		{"left", run.StagedLeft},
		{"right", run.StagedRight},
	} {
		if !fileutil.FileExists(side.path) {
			return services.Wrap(services.ErrNotFound, "match", "inspect inputs",
				fmt.Sprintf("prepared %s image %q does not exist", side.label, side.path), nil)
		}
	}
	if run.DisparityPath == "" {
		return services.Wrap(services.ErrValidation, "match", "inspect outputs",
			"disparity output path is not set", nil)
	}
	if dir := filepath.Dir(run.DisparityPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "match", "create output directory", dir, err)
		}
	}
	return nil
}

// Execute invokes the matcher. The auxiliary min/max cost-volume rasters go
// into the run workspace; callers rarely want them, but the matcher insists
// on writing them somewhere.
func (h *Handler) Execute(ctx context.Context, run *journal.Run) error {
	req := sgbm.Request{
		Left:         run.StagedLeft,
		Right:        run.StagedRight,
		DisparityOut: run.DisparityPath,
		MinAuxOut:    filepath.Join(run.WorkspaceDir, "disp_min.tif"),
		MaxAuxOut:    filepath.Join(run.WorkspaceDir, "disp_max.tif"),
		Params: sgbm.Params{
			MinDisparity: run.Params.MinDisparity,
			MaxDisparity: run.Params.MaxDisparity,
			WindowSize:   run.Params.WindowSize,
			P1:           run.Params.P1,
			P2:           run.Params.P2,
			LRThreshold:  run.Params.LRThreshold,
		},
	}
	if err := h.client.Match(ctx, req); err != nil {
		return err
	}
	if !fileutil.FileExists(run.DisparityPath) {
		return services.Wrap(services.ErrExternalTool, "match", "verify output",
			fmt.Sprintf("matcher exited cleanly but wrote no disparity map at %q", run.DisparityPath), nil)
	}
	h.logger.Info("disparity map written",
		logging.String("path", run.DisparityPath),
	)
	run.ProgressMessage = "disparity computed"
	return nil
}

// HealthCheck reports whether the matcher binary is resolvable.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(h.binary); err != nil {
		return stage.Unhealthy("match", fmt.Sprintf("binary %q not found", h.binary))
	}
	return stage.Healthy("match")
}
