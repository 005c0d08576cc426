package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("exit status 3")
	err := Wrap(ErrExternalTool, "match", "invoke sgbm", "matcher exited abnormally", base)
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
	for _, want := range []string{"match", "invoke sgbm", "matcher exited abnormally", "exit status 3"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestContextAnnotations(t *testing.T) {
	ctx := WithStage(WithRunID(context.Background(), "run-1"), "normalize")

	if id, ok := RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("run id round trip failed: %q %v", id, ok)
	}
	if stage, ok := StageFromContext(ctx); !ok || stage != "normalize" {
		t.Fatalf("stage round trip failed: %q %v", stage, ok)
	}

	if _, ok := RunIDFromContext(context.Background()); ok {
		t.Fatal("expected missing run id")
	}
	if same := WithStage(context.Background(), ""); same != context.Background() {
		t.Fatal("empty stage should not allocate")
	}
}
