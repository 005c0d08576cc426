package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stereopipe/internal/config"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()

	result := CheckDirectoryAccess("Work directory", dir)
	if !result.Passed {
		t.Fatalf("writable directory failed: %+v", result)
	}

	result = CheckDirectoryAccess("Work directory", filepath.Join(dir, "missing"))
	if result.Passed || !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("missing directory passed: %+v", result)
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result = CheckDirectoryAccess("Work directory", file)
	if result.Passed || !strings.Contains(result.Detail, "not a directory") {
		t.Fatalf("plain file passed: %+v", result)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	orig := statfsFree
	defer func() { statfsFree = orig }()

	statfsFree = func(string) (uint64, error) { return 10 << 30, nil }
	if result := CheckDiskSpace("space", "/anywhere"); !result.Passed {
		t.Fatalf("ample space failed: %+v", result)
	}

	statfsFree = func(string) (uint64, error) { return 1 << 20, nil }
	if result := CheckDiskSpace("space", "/anywhere"); result.Passed {
		t.Fatalf("scarce space passed: %+v", result)
	}

	statfsFree = func(string) (uint64, error) { return 0, errors.New("no such filesystem") }
	if result := CheckDiskSpace("space", "/anywhere"); result.Passed {
		t.Fatalf("statfs error passed: %+v", result)
	}
}

func TestRunAllReportsMissingBinaries(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Tools.Qauto = "definitely-not-a-binary-on-path"
	cfg.Tools.SGBM = "sh"
	cfg.Tools.Blur = "sh"
	cfg.Tools.Plambda = "sh"

	results := RunAll(context.Background(), &cfg)
	var sawFailure bool
	for _, result := range results {
		if strings.Contains(result.Detail, "definitely-not-a-binary-on-path") && !result.Passed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("missing binary not reported: %+v", results)
	}
}
