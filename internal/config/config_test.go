package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize default: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !cfg.Preprocess.Equalize {
		t.Fatal("equalization should default on")
	}
	if cfg.Tools.SGBM != "sgbm" {
		t.Fatalf("unexpected default matcher binary %q", cfg.Tools.SGBM)
	}
	if cfg.Sift.MaxPoints != 2000 || cfg.Sift.MatchThresh != 0.6 ||
		cfg.Sift.ThreshDog != 0.0133 || cfg.Sift.MinMatches != 10 {
		t.Fatalf("unexpected sift defaults %+v", cfg.Sift)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
work_dir = "` + filepath.Join(dir, "work") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[tools]
sgbm = "/opt/stereo/bin/sgbm"

[preprocess]
equalize = false
blur_radius = 2.5

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved existing path %q, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Tools.SGBM != "/opt/stereo/bin/sgbm" {
		t.Fatalf("sgbm override lost: %q", cfg.Tools.SGBM)
	}
	if cfg.Tools.Qauto != "qauto" {
		t.Fatalf("unset tool should keep default, got %q", cfg.Tools.Qauto)
	}
	if cfg.Preprocess.Equalize {
		t.Fatal("equalize override lost")
	}
	if cfg.Preprocess.BlurRadius != 2.5 {
		t.Fatalf("blur radius override lost: %g", cfg.Preprocess.BlurRadius)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging overrides lost: %+v", cfg.Logging)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists {
		t.Fatalf("file %q should not exist", resolved)
	}
	if cfg.Tools.Plambda != "plambda" {
		t.Fatalf("expected defaults, got %+v", cfg.Tools)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty tool", func(c *Config) { c.Tools.Qauto = "" }, "tools.qauto"},
		{"zero radius", func(c *Config) { c.Preprocess.BlurRadius = 0 }, "blur_radius"},
		{"negative radius", func(c *Config) { c.Preprocess.BlurRadius = -1 }, "blur_radius"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"empty sift tool", func(c *Config) { c.Tools.Ransac = "" }, "tools.ransac"},
		{"zero sift points", func(c *Config) { c.Sift.MaxPoints = 0 }, "sift.max_points"},
		{"negative sift thresh", func(c *Config) { c.Sift.MatchThresh = -0.5 }, "sift.match_thresh"},
		{"missing workdir", func(c *Config) { c.Paths.WorkDir = "" }, "work_dir"},
	}
	for _, tc := range cases {
		cfg := Default()
		if err := cfg.normalize(); err != nil {
			t.Fatalf("%s: normalize: %v", tc.name, err)
		}
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q missing %q", tc.name, err.Error(), tc.want)
		}
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	got, err := ExpandPath("~/stereo/work")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "stereo", "work") {
		t.Fatalf("unexpected expansion %q", got)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample file should exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}
