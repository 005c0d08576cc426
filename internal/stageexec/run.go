// Package stageexec runs one pipeline stage with journal transition
// bookkeeping and structured lifecycle logging.
package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"stereopipe/internal/journal"
	"stereopipe/internal/logging"
	"stereopipe/internal/services"
	"stereopipe/internal/stage"
)

// Options controls stage execution and journal persistence behavior.
type Options struct {
	Logger     *slog.Logger
	Store      *journal.Store
	Handler    stage.Handler
	StageName  string
	Processing journal.Status
	Done       journal.Status
	Run        *journal.Run
}

// Run executes a stage and applies the journal transition semantics used by
// the sequential pipeline. A nil Store disables persistence but keeps the
// status fields on the run in sync.
func Run(ctx context.Context, opts Options) error {
	if opts.Handler == nil {
		return fmt.Errorf("stage handler unavailable: %s", opts.StageName)
	}
	if opts.Run == nil {
		return fmt.Errorf("pipeline run is required")
	}

	stageCtx := services.WithStage(ctx, opts.StageName)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)

	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(opts.Processing)),
	)

	setProcessingState(opts.Run, opts.Processing)
	if err := persist(stageCtx, opts.Store, opts.Run); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}

	if err := opts.Handler.Prepare(stageCtx, opts.Run); err != nil {
		return handleFailure(stageCtx, stageLogger, opts.Store, opts.Run, err)
	}
	if err := persist(stageCtx, opts.Store, opts.Run); err != nil {
		return fmt.Errorf("persist stage preparation: %w", err)
	}

	if err := opts.Handler.Execute(stageCtx, opts.Run); err != nil {
		return handleFailure(stageCtx, stageLogger, opts.Store, opts.Run, err)
	}

	if opts.Run.Status == opts.Processing || opts.Run.Status == "" {
		opts.Run.Status = opts.Done
	}
	if err := persist(stageCtx, opts.Store, opts.Run); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}

	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(opts.Run.Status)),
		logging.String("progress_message", strings.TrimSpace(opts.Run.ProgressMessage)),
	)
	return nil
}

func persist(ctx context.Context, store *journal.Store, run *journal.Run) error {
	if store == nil {
		return nil
	}
	return store.Update(ctx, run)
}

func handleFailure(ctx context.Context, logger *slog.Logger, store *journal.Store, run *journal.Run, stageErr error) error {
	message := "stage failed"
	if stageErr != nil {
		message = strings.TrimSpace(stageErr.Error())
	}
	run.SetFailed(message)

	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("resolved_status", string(journal.StatusFailed)),
		logging.Error(stageErr),
	)
	if err := persist(ctx, store, run); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
	return stageErr
}

func setProcessingState(run *journal.Run, processing journal.Status) {
	run.Status = processing
	run.ProgressStage = deriveStageLabel(processing)
	run.ProgressMessage = fmt.Sprintf("%s started", deriveStageLabel(processing))
	run.ErrorMessage = ""
}

func deriveStageLabel(status journal.Status) string {
	if status == "" {
		return ""
	}
	parts := strings.Fields(strings.ReplaceAll(string(status), "_", " "))
	for i, part := range parts {
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}
