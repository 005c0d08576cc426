// Package equalize applies the illumination equalization chain to each image
// independently: Gaussian blur, a 4-neighbor Laplacian sharpening expression,
// then an auto contrast stretch. Unlike normalization, thresholds are NOT
// shared across the pair here; the Laplacian output ranges are already
// comparable and each image is stretched on its own.
package equalize

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

// Handler implements the illumination equalization stage.
type Handler struct {
	client *imscript.Client
	radius float64
	tools  config.Tools
	logger *slog.Logger
}

// New builds the stage handler.
func New(cfg *config.Config, client *imscript.Client, logger *slog.Logger) *Handler {
	base := config.Default()
	if cfg == nil {
		cfg = &base
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		client: client,
		radius: cfg.Preprocess.BlurRadius,
		tools:  cfg.Tools,
		logger: logger.With(logging.String(logging.FieldComponent, "equalize")),
	}
}

// Prepare stages both images into the run workspace so the in-place rewrite
// never touches the caller's original files.
func (h *Handler) Prepare(_ context.Context, run *journal.Run) error {
	if run.WorkspaceDir == "" {
		return services.Wrap(services.ErrValidation, "equalize", "inspect workspace",
			"run workspace is not set", nil)
	}
	sides := []struct {
		label string
		path  *string
	}{
		{"left", &run.StagedLeft},
		{"right", &run.StagedRight},
	}
	for _, side := range sides {
		if !fileutil.FileExists(*side.path) {
			return services.Wrap(services.ErrNotFound, "equalize", "inspect inputs",
				fmt.Sprintf("%s image %q does not exist", side.label, *side.path), nil)
		}
		if insideDir(*side.path, run.WorkspaceDir) {
			continue
		}
		staged := filepath.Join(run.WorkspaceDir, side.label+"_"+filepath.Base(*side.path))
		if err := fileutil.CopyFile(*side.path, staged); err != nil {
			return services.Wrap(services.ErrConfiguration, "equalize", "stage input", staged, err)
		}
		*side.path = staged
	}
	return nil
}

// Execute rewrites each staged image in place with the blur/Laplacian/stretch
// chain. Intermediates live next to the image and are removed afterwards.
func (h *Handler) Execute(ctx context.Context, run *journal.Run) error {
	for _, path := range []string{run.StagedLeft, run.StagedRight} {
		if err := h.equalizeOne(ctx, path); err != nil {
			return err
		}
	}
	run.ProgressMessage = "illumination equalized"
	return nil
}

func (h *Handler) equalizeOne(ctx context.Context, path string) error {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	blurred := base + "_blur" + ext
	sharpened := base + "_lap" + ext
	defer func() {
		_ = os.Remove(blurred)
		_ = os.Remove(sharpened)
	}()

	if err := h.client.GaussianBlur(ctx, h.radius, path, blurred); err != nil {
		return err
	}
	if err := h.client.Filter(ctx, imscript.LaplacianExpr, blurred, sharpened); err != nil {
		return err
	}
	thresholds, err := h.client.Stretch(ctx, sharpened, path)
	if err != nil {
		return err
	}
	h.logger.Debug("image equalized",
		logging.String("image", path),
		logging.String("thresholds", thresholds.String()),
	)
	return nil
}

// HealthCheck reports whether the blur and expression tools are resolvable.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	for _, binary := range []string{h.tools.Blur, h.tools.Plambda, h.tools.Qauto} {
		if _, err := exec.LookPath(binary); err != nil {
			return stage.Unhealthy("equalize", fmt.Sprintf("binary %q not found", binary))
		}
	}
	return stage.Healthy("equalize")
}

func insideDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
