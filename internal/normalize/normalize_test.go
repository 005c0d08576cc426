package normalize

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stereopipe/internal/journal"
	"stereopipe/internal/services/imscript"
)

type call struct {
	name string
	args []string
}

func writeFixture(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("raster"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newHandler(t *testing.T, calls *[]call) *Handler {
	t.Helper()
	client := imscript.NewClient(nil, nil, imscript.WithRunner(
		func(_ context.Context, name string, args ...string) ([]byte, error) {
			*calls = append(*calls, call{name: name, args: args})
			return []byte("qauto: min 5 max 200\n"), nil
		}))
	return New(nil, client, nil)
}

func TestExecuteSharesThresholds(t *testing.T) {
	dir := t.TempDir()
	left := writeFixture(t, dir, "left.tif")
	right := writeFixture(t, dir, "right.tiff")
	workspace := filepath.Join(dir, "work")

	var calls []call
	handler := newHandler(t, &calls)
	run := &journal.Run{LeftInput: left, RightInput: right, WorkspaceDir: workspace}

	if err := handler.Prepare(context.Background(), run); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("expected 2 conversions, got %d", len(calls))
	}
	// First conversion lets qauto pick thresholds.
	if strings.Join(calls[0].args, " ") != left+" "+filepath.Join(workspace, "left.png") {
		t.Fatalf("unexpected first argv %v", calls[0].args)
	}
	// Second conversion reuses the captured pair verbatim.
	second := strings.Join(calls[1].args, " ")
	if !strings.HasPrefix(second, "-m 5 -M 200 ") {
		t.Fatalf("thresholds not shared: %q", second)
	}
	if !strings.Contains(second, right) {
		t.Fatalf("second conversion argv %q missing input", second)
	}

	if run.StagedLeft != filepath.Join(workspace, "left.png") {
		t.Fatalf("staged left %q", run.StagedLeft)
	}
	if run.StagedRight != filepath.Join(workspace, "right.png") {
		t.Fatalf("staged right %q", run.StagedRight)
	}
}

func TestExecutePassesThroughOtherFormats(t *testing.T) {
	dir := t.TempDir()
	left := writeFixture(t, dir, "left.png")
	right := writeFixture(t, dir, "right.jpg")

	var calls []call
	handler := newHandler(t, &calls)
	run := &journal.Run{LeftInput: left, RightInput: right, WorkspaceDir: filepath.Join(dir, "work")}

	if err := handler.Prepare(context.Background(), run); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(calls) != 0 {
		t.Fatalf("no conversions expected, got %v", calls)
	}
	if run.StagedLeft != left || run.StagedRight != right {
		t.Fatalf("pass-through paths changed: %q %q", run.StagedLeft, run.StagedRight)
	}
}

func TestExecuteConvertsOnlySecondInput(t *testing.T) {
	dir := t.TempDir()
	left := writeFixture(t, dir, "left.png")
	right := writeFixture(t, dir, "right.tif")
	workspace := filepath.Join(dir, "work")

	var calls []call
	handler := newHandler(t, &calls)
	run := &journal.Run{LeftInput: left, RightInput: right, WorkspaceDir: workspace}

	if err := handler.Prepare(context.Background(), run); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// The only converted image is the "first" conversion; no preset thresholds.
	if len(calls) != 1 {
		t.Fatalf("expected 1 conversion, got %d", len(calls))
	}
	if calls[0].args[0] == "-m" {
		t.Fatalf("single conversion must pick its own thresholds: %v", calls[0].args)
	}
	if run.StagedLeft != left {
		t.Fatalf("left should pass through, got %q", run.StagedLeft)
	}
}

func TestExecuteAvoidsBasenameCollision(t *testing.T) {
	dir := t.TempDir()
	leftDir := filepath.Join(dir, "a")
	rightDir := filepath.Join(dir, "b")
	for _, d := range []string{leftDir, rightDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	left := writeFixture(t, leftDir, "view.tif")
	right := writeFixture(t, rightDir, "view.tif")

	var calls []call
	handler := newHandler(t, &calls)
	run := &journal.Run{LeftInput: left, RightInput: right, WorkspaceDir: filepath.Join(dir, "work")}

	if err := handler.Prepare(context.Background(), run); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.StagedLeft == run.StagedRight {
		t.Fatalf("staged paths collide: %q", run.StagedLeft)
	}
}

func TestPrepareMissingInput(t *testing.T) {
	dir := t.TempDir()
	left := writeFixture(t, dir, "left.tif")

	var calls []call
	handler := newHandler(t, &calls)
	run := &journal.Run{LeftInput: left, RightInput: filepath.Join(dir, "absent.tif"), WorkspaceDir: filepath.Join(dir, "work")}

	if err := handler.Prepare(context.Background(), run); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestIsScientificFormat(t *testing.T) {
	cases := map[string]bool{
		"a.tif":  true,
		"a.TIFF": true,
		"a.tiff": true,
		"a.png":  false,
		"a.jpg":  false,
		"a":      false,
	}
	for path, want := range cases {
		if got := IsScientificFormat(path); got != want {
			t.Fatalf("IsScientificFormat(%q) = %v, want %v", path, got, want)
		}
	}
}
