package stageexec

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"stereopipe/internal/journal"
	"stereopipe/internal/logging"
	"stereopipe/internal/stage"
)

type fakeHandler struct {
	prepareErr error
	executeErr error
	prepared   bool
	executed   bool
	sawStage   string
}

func (f *fakeHandler) Prepare(ctx context.Context, _ *journal.Run) error {
	f.prepared = true
	return f.prepareErr
}

func (f *fakeHandler) Execute(ctx context.Context, _ *journal.Run) error {
	f.executed = true
	return f.executeErr
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("fake")
}

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.OpenPath(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRun(t *testing.T, store *journal.Store) *journal.Run {
	t.Helper()
	run := &journal.Run{RunID: "stage-test", LeftInput: "l", RightInput: "r", DisparityPath: "d", MaskPath: "m"}
	if err := store.NewRun(context.Background(), run); err != nil {
		t.Fatalf("new run: %v", err)
	}
	return run
}

func TestRunAdvancesStatus(t *testing.T) {
	store := openStore(t)
	run := newRun(t, store)
	handler := &fakeHandler{}

	err := Run(context.Background(), Options{
		Logger:     logging.NewNop(),
		Store:      store,
		Handler:    handler,
		StageName:  "match",
		Processing: journal.StatusMatching,
		Done:       journal.StatusMatched,
		Run:        run,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !handler.prepared || !handler.executed {
		t.Fatalf("handler not fully invoked: %+v", handler)
	}
	if run.Status != journal.StatusMatched {
		t.Fatalf("expected matched, got %q", run.Status)
	}

	persisted, err := store.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if persisted.Status != journal.StatusMatched {
		t.Fatalf("persisted status %q", persisted.Status)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	store := openStore(t)
	run := newRun(t, store)
	boom := errors.New("matcher exited with status 2")
	handler := &fakeHandler{executeErr: boom}

	err := Run(context.Background(), Options{
		Logger:     logging.NewNop(),
		Store:      store,
		Handler:    handler,
		StageName:  "match",
		Processing: journal.StatusMatching,
		Done:       journal.StatusMatched,
		Run:        run,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected stage error, got %v", err)
	}
	persisted, getErr := store.Get(context.Background(), run.ID)
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if persisted.Status != journal.StatusFailed {
		t.Fatalf("expected failed, got %q", persisted.Status)
	}
	if persisted.ErrorMessage == "" {
		t.Fatal("expected recorded error message")
	}
}

func TestRunPrepareFailureSkipsExecute(t *testing.T) {
	store := openStore(t)
	run := newRun(t, store)
	handler := &fakeHandler{prepareErr: errors.New("missing input")}

	err := Run(context.Background(), Options{
		Logger:     logging.NewNop(),
		Store:      store,
		Handler:    handler,
		StageName:  "normalize",
		Processing: journal.StatusNormalizing,
		Done:       journal.StatusNormalized,
		Run:        run,
	})
	if err == nil {
		t.Fatal("expected prepare error")
	}
	if handler.executed {
		t.Fatal("execute must not run after failed prepare")
	}
}

func TestRunWithoutStore(t *testing.T) {
	run := &journal.Run{RunID: "ephemeral"}
	handler := &fakeHandler{}

	err := Run(context.Background(), Options{
		Logger:     logging.NewNop(),
		Handler:    handler,
		StageName:  "mask",
		Processing: journal.StatusMasking,
		Done:       journal.StatusCompleted,
		Run:        run,
	})
	if err != nil {
		t.Fatalf("run without store: %v", err)
	}
	if run.Status != journal.StatusCompleted {
		t.Fatalf("status %q", run.Status)
	}
}

func TestDeriveStageLabel(t *testing.T) {
	if got := deriveStageLabel(journal.StatusEqualizing); got != "Equalizing" {
		t.Fatalf("label %q", got)
	}
	if got := deriveStageLabel(""); got != "" {
		t.Fatalf("empty status label %q", got)
	}
}
