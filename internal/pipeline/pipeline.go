// Package pipeline drives one stereo matching run through its stages in
// order: format normalization, optional illumination equalization, the
// external matcher, and validity mask derivation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"stereopipe/internal/config"
	"stereopipe/internal/equalize"
	"stereopipe/internal/journal"
	"stereopipe/internal/logging"
	"stereopipe/internal/masking"
	"stereopipe/internal/matching"
	"stereopipe/internal/normalize"
	"stereopipe/internal/services"
	"stereopipe/internal/services/imscript"
	"stereopipe/internal/services/sgbm"
	"stereopipe/internal/stage"
	"stereopipe/internal/stageexec"
)

// Request describes one matching run.
type Request struct {
	LeftInput     string
	RightInput    string
	DisparityOut  string
	MaskOut       string
	Params        journal.Params
	Equalize      bool
	KeepWorkspace bool
}

// Runner owns the stage handlers and the run lock.
type Runner struct {
	cfg    *config.Config
	store  *journal.Store
	logger *slog.Logger

	normalizeStage stage.Handler
	equalizeStage  stage.Handler
	matchStage     stage.Handler
	maskStage      stage.Handler
}

// Option customizes runner construction.
type Option func(*options)

type options struct {
	imscriptOpts []imscript.Option
	matcherOpts  []sgbm.Option
}

// WithImscriptOptions forwards options to the image tool client, primarily
// so tests can stub process execution.
func WithImscriptOptions(opts ...imscript.Option) Option {
	return func(o *options) { o.imscriptOpts = append(o.imscriptOpts, opts...) }
}

// WithMatcherOptions forwards options to the matcher client.
func WithMatcherOptions(opts ...sgbm.Option) Option {
	return func(o *options) { o.matcherOpts = append(o.matcherOpts, opts...) }
}

// New builds a runner. The store may be nil when journaling is disabled.
func New(cfg *config.Config, store *journal.Store, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	tools := imscript.NewClient(cfg, logger, o.imscriptOpts...)
	matcher := sgbm.NewClient(cfg, logger, o.matcherOpts...)
	return &Runner{
		cfg:            cfg,
		store:          store,
		logger:         logger.With(logging.String(logging.FieldComponent, "pipeline")),
		normalizeStage: normalize.New(cfg, tools, logger),
		equalizeStage:  equalize.New(cfg, tools, logger),
		matchStage:     matching.New(cfg, matcher, logger),
		maskStage:      masking.New(logger),
	}
}

type plannedStage struct {
	name       string
	handler    stage.Handler
	processing journal.Status
	done       journal.Status
}

func (r *Runner) plan(equalizeEnabled bool) []plannedStage {
	stages := []plannedStage{
		{"normalize", r.normalizeStage, journal.StatusNormalizing, journal.StatusNormalized},
	}
	if equalizeEnabled {
		stages = append(stages,
			plannedStage{"equalize", r.equalizeStage, journal.StatusEqualizing, journal.StatusEqualized})
	}
	stages = append(stages,
		plannedStage{"match", r.matchStage, journal.StatusMatching, journal.StatusMatched},
		plannedStage{"mask", r.maskStage, journal.StatusMasking, journal.StatusCompleted},
	)
	return stages
}

// Execute runs the full pipeline for req. The returned run reflects the final
// journal state even on failure; the workspace is removed only after a fully
// successful run, so failed runs can be inspected.
func (r *Runner) Execute(ctx context.Context, req Request) (*journal.Run, error) {
	runID := uuid.New().String()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	lock := flock.New(r.cfg.LockPath())
	held, err := lock.TryRLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "acquire run lock", r.cfg.LockPath(), err)
	}
	if !held {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "acquire run lock",
			"workspace maintenance is in progress, retry once it finishes", nil)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			logger.Warn("failed to release run lock", logging.Error(unlockErr))
		}
	}()

	// Only after the lock is held: a refused run must not leave an empty
	// workspace behind for clean to chase.
	workspace := filepath.Join(r.cfg.Paths.WorkDir, "run-"+runID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "create workspace", workspace, err)
	}

	run := &journal.Run{
		RunID:         runID,
		LeftInput:     req.LeftInput,
		RightInput:    req.RightInput,
		StagedLeft:    req.LeftInput,
		StagedRight:   req.RightInput,
		DisparityPath: req.DisparityOut,
		MaskPath:      req.MaskOut,
		WorkspaceDir:  workspace,
		Params:        req.Params,
		Status:        journal.StatusPending,
	}
	if r.store != nil {
		if err := r.store.NewRun(ctx, run); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	}

	stages := r.plan(req.Equalize)
	if err := r.checkStages(ctx, stages); err != nil {
		run.SetFailed(err.Error())
		r.persistBestEffort(ctx, logger, run)
		return run, err
	}

	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("left", req.LeftInput),
		logging.String("right", req.RightInput),
		logging.String("workspace", workspace),
	)

	for _, planned := range stages {
		err := stageexec.Run(ctx, stageexec.Options{
			Logger:     r.logger,
			Store:      r.store,
			Handler:    planned.handler,
			StageName:  planned.name,
			Processing: planned.processing,
			Done:       planned.done,
			Run:        run,
		})
		if err != nil {
			logger.Error("pipeline failed",
				logging.String(logging.FieldEventType, "run_failure"),
				logging.String("failed_stage", planned.name),
				logging.Error(err),
			)
			return run, err
		}
	}

	if !req.KeepWorkspace {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("failed to remove workspace", logging.String("workspace", workspace), logging.Error(err))
		}
	}
	logger.Info("pipeline completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("disparity", run.DisparityPath),
		logging.String("mask", run.MaskPath),
	)
	return run, nil
}

// checkStages verifies every planned stage reports healthy before any work
// starts, so a missing binary fails the run before files are touched.
func (r *Runner) checkStages(ctx context.Context, stages []plannedStage) error {
	var problems []string
	for _, planned := range stages {
		health := planned.handler.HealthCheck(ctx)
		if !health.Ready {
			problems = append(problems, fmt.Sprintf("%s: %s", health.Name, health.Detail))
		}
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrConfiguration, "pipeline", "health check",
			strings.Join(problems, "; "), nil)
	}
	return nil
}

func (r *Runner) persistBestEffort(ctx context.Context, logger *slog.Logger, run *journal.Run) {
	if r.store == nil {
		return
	}
	if err := r.store.Update(ctx, run); err != nil {
		logger.Error("failed to persist run state", logging.Error(err))
	}
}

// Clean removes stale run workspaces under the work directory. Workspaces
// belonging to journal runs that are still in flight are kept. The exclusive
// lock guarantees no run is mid-stage while directories disappear.
func (r *Runner) Clean(ctx context.Context) (int, error) {
	lock := flock.New(r.cfg.LockPath())
	held, err := lock.TryLock()
	if err != nil {
		return 0, services.Wrap(services.ErrConfiguration, "pipeline", "acquire maintenance lock", r.cfg.LockPath(), err)
	}
	if !held {
		return 0, services.Wrap(services.ErrValidation, "pipeline", "acquire maintenance lock",
			"a run is in progress, retry once it finishes", nil)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	active := map[string]struct{}{}
	if r.store != nil {
		workspaces, err := r.store.ActiveWorkspaces(ctx)
		if err != nil {
			return 0, fmt.Errorf("list active workspaces: %w", err)
		}
		for _, ws := range workspaces {
			active[filepath.Clean(ws)] = struct{}{}
		}
	}

	entries, err := os.ReadDir(r.cfg.Paths.WorkDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read work directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "run-") {
			continue
		}
		path := filepath.Join(r.cfg.Paths.WorkDir, entry.Name())
		if _, inFlight := active[filepath.Clean(path)]; inFlight {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove workspace %s: %w", path, err)
		}
		removed++
	}
	r.logger.Info("workspaces cleaned", logging.Int("removed", removed))
	return removed, nil
}
