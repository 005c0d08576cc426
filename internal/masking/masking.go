// Package masking derives the validity mask from the computed disparity map:
// pixels the matcher rejected (NaN disparity) become 255, everything else 0.
package masking

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stereopipe/internal/disparity"
	"stereopipe/internal/fileutil"
	"stereopipe/internal/journal"
	"stereopipe/internal/logging"
	"stereopipe/internal/services"
	"stereopipe/internal/stage"
)

// Handler implements the mask derivation stage.
type Handler struct {
	logger *slog.Logger
}

// New builds the stage handler.
func New(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{logger: logger.With(logging.String(logging.FieldComponent, "mask"))}
}

// Prepare verifies the disparity map exists and the mask destination is set.
func (h *Handler) Prepare(_ context.Context, run *journal.Run) error {
	if !fileutil.FileExists(run.DisparityPath) {
		return services.Wrap(services.ErrNotFound, "mask", "inspect inputs",
			fmt.Sprintf("disparity map %q does not exist", run.DisparityPath), nil)
	}
	if run.MaskPath == "" {
		return services.Wrap(services.ErrValidation, "mask", "inspect outputs",
			"mask output path is not set", nil)
	}
	if dir := filepath.Dir(run.MaskPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "mask", "create output directory", dir, err)
		}
	}
	return nil
}

// Execute writes the validity mask and records its coverage.
func (h *Handler) Execute(_ context.Context, run *journal.Run) error {
	summary, err := disparity.DeriveMask(run.DisparityPath, run.MaskPath)
	if err != nil {
		return err
	}
	h.logger.Info("validity mask written",
		logging.String("path", run.MaskPath),
		logging.Int("width", summary.Width),
		logging.Int("height", summary.Height),
		logging.Int("invalid_pixels", summary.Invalid),
	)
	run.ProgressMessage = fmt.Sprintf("mask written, %d of %d pixels invalid",
		summary.Invalid, summary.Total)
	return nil
}

// HealthCheck always passes; the stage has no external tool dependency.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("mask")
}
