package masking

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"stereopipe/internal/disparity"
	"stereopipe/internal/journal"
	"stereopipe/internal/services"
)

func TestPrepareRejectsMissingDisparity(t *testing.T) {
	dir := t.TempDir()
	handler := New(nil)
	run := &journal.Run{
		DisparityPath: filepath.Join(dir, "absent.tif"),
		MaskPath:      filepath.Join(dir, "mask.png"),
	}
	err := handler.Prepare(context.Background(), run)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestPrepareRejectsEmptyMaskPath(t *testing.T) {
	dir := t.TempDir()
	dispPath := filepath.Join(dir, "disp.tif")
	if err := os.WriteFile(dispPath, []byte("disp"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	handler := New(nil)
	run := &journal.Run{DisparityPath: dispPath}
	err := handler.Prepare(context.Background(), run)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteWritesMask(t *testing.T) {
	dir := t.TempDir()
	dispPath := filepath.Join(dir, "disp.tiff")
	maskPath := filepath.Join(dir, "out", "mask.png")

	nan := float32(math.NaN())
	disp := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32F)
	defer disp.Close()
	disp.SetFloatAt(0, 0, nan)
	disp.SetFloatAt(0, 1, 3.5)
	disp.SetFloatAt(1, 0, -2)
	disp.SetFloatAt(1, 1, nan)
	if ok := gocv.IMWrite(dispPath, disp); !ok {
		t.Skip("float TIFF encoding unavailable in this OpenCV build")
	}

	handler := New(nil)
	run := &journal.Run{DisparityPath: dispPath, MaskPath: maskPath}
	if err := handler.Prepare(context.Background(), run); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	mask := gocv.IMRead(maskPath, gocv.IMReadGrayScale)
	defer mask.Close()
	if mask.Empty() {
		t.Fatal("mask not written")
	}
	if mask.GetUCharAt(0, 0) != disparity.MaskInvalid || mask.GetUCharAt(0, 1) != disparity.MaskValid {
		t.Fatalf("unexpected mask values %d %d", mask.GetUCharAt(0, 0), mask.GetUCharAt(0, 1))
	}
	if !strings.Contains(run.ProgressMessage, "2 of 4") {
		t.Fatalf("progress message %q", run.ProgressMessage)
	}
}

func TestHealthCheckAlwaysHealthy(t *testing.T) {
	health := New(nil).HealthCheck(context.Background())
	if !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}
}
