// Package normalize converts scientific-format inputs into a common raster
// format before matching. Both images of a pair are stretched with a single
// threshold range: independent auto-stretching would distort their relative
// intensities and corrupt the matching cost computation.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"stereopipe/internal/config"
	"stereopipe/internal/fileutil"
	"stereopipe/internal/journal"
	"stereopipe/internal/logging"
	"stereopipe/internal/services"
	"stereopipe/internal/services/imscript"
	"stereopipe/internal/stage"
)

// Handler implements the format normalization stage.
type Handler struct {
	client *imscript.Client
	qauto  string
	logger *slog.Logger
}

// New builds the stage handler.
func New(cfg *config.Config, client *imscript.Client, logger *slog.Logger) *Handler {
	qauto := config.Default().Tools.Qauto
	if cfg != nil {
		qauto = cfg.Tools.Qauto
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		client: client,
		qauto:  qauto,
		logger: logger.With(logging.String(logging.FieldComponent, "normalize")),
	}
}

// Prepare verifies both inputs exist and the run workspace is usable.
func (h *Handler) Prepare(_ context.Context, run *journal.Run) error {
	for side, path := range map[string]string{"left": run.LeftInput, "right": run.RightInput} {
		if !fileutil.FileExists(path) {
			return services.Wrap(services.ErrNotFound, "normalize", "inspect inputs",
				fmt.Sprintf("%s image %q does not exist", side, path), nil)
		}
	}
	if run.WorkspaceDir == "" {
		return services.Wrap(services.ErrValidation, "normalize", "inspect workspace",
			"run workspace is not set", nil)
	}
	if err := os.MkdirAll(run.WorkspaceDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "normalize", "create workspace", run.WorkspaceDir, err)
	}
	return nil
}

// Execute converts TIFF inputs to PNG in the run workspace, reusing the first
// conversion's thresholds for the second. Non-TIFF inputs pass through with
// their original paths.
func (h *Handler) Execute(ctx context.Context, run *journal.Run) error {
	staged := [2]string{run.LeftInput, run.RightInput}
	var shared *imscript.Thresholds

	for i, input := range staged {
		if !IsScientificFormat(input) {
			continue
		}
		dst := stagedName(run.WorkspaceDir, input, i == 1, staged[0])
		if shared == nil {
			thresholds, err := h.client.Stretch(ctx, input, dst)
			if err != nil {
				return err
			}
			shared = &thresholds
			h.logger.Info("contrast thresholds captured",
				logging.String("source", input),
				logging.String("thresholds", thresholds.String()),
			)
		} else {
			if err := h.client.StretchWith(ctx, input, dst, *shared); err != nil {
				return err
			}
		}
		staged[i] = dst
	}

	run.StagedLeft = staged[0]
	run.StagedRight = staged[1]
	run.ProgressMessage = "inputs normalized"
	return nil
}

// HealthCheck reports whether the conversion tool is resolvable.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(h.qauto); err != nil {
		return stage.Unhealthy("normalize", fmt.Sprintf("binary %q not found", h.qauto))
	}
	return stage.Healthy("normalize")
}

// IsScientificFormat reports whether the path carries a TIFF extension.
func IsScientificFormat(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// stagedName keys the converted raster by input basename. When both inputs
// share a basename the right image gets a suffix so the pair cannot collide
// inside one workspace.
func stagedName(workspace, input string, isRight bool, leftInput string) string {
	base := fileutil.BaseNoExt(input)
	if isRight && base == fileutil.BaseNoExt(leftInput) {
		base += "_right"
	}
	return filepath.Join(workspace, base+".png")
}
