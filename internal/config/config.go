package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// Tools names the external binaries the pipeline orchestrates. Values may be
// bare command names resolved via PATH or absolute paths.
type Tools struct {
	Qauto    string `toml:"qauto"`
	Blur     string `toml:"blur"`
	Plambda  string `toml:"plambda"`
	SGBM     string `toml:"sgbm"`
	SiftROI  string `toml:"sift_roi"`
	MatchCLI string `toml:"match_cli"`
	Ransac   string `toml:"ransac"`
}

// Preprocess contains configuration for the illumination equalization stage.
type Preprocess struct {
	Equalize   bool    `toml:"equalize"`
	BlurRadius float64 `toml:"blur_radius"`
}

// Sift contains defaults for sparse keypoint matching.
type Sift struct {
	MaxPoints   int     `toml:"max_points"`
	MatchThresh float64 `toml:"match_thresh"`
	ThreshDog   float64 `toml:"thresh_dog"`
	MinMatches  int     `toml:"min_matches"`
}

// Journal contains configuration for the run journal database.
type Journal struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for stereopipe.
//
// Sections by subsystem:
//   - Paths: run workspace and log directories
//   - Tools: external binary names (qauto, blur, plambda, sgbm, sift tools)
//   - Preprocess: illumination equalization toggle and blur radius
//   - Sift: sparse keypoint matching defaults
//   - Journal: run journal persistence
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Tools      Tools      `toml:"tools"`
	Preprocess Preprocess `toml:"preprocess"`
	Sift       Sift       `toml:"sift"`
	Journal    Journal    `toml:"journal"`
	Logging    Logging    `toml:"logging"`
}

// Default returns the configuration used when no file overrides are present.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: "~/.local/share/stereopipe/work",
			LogDir:  "~/.local/share/stereopipe/logs",
		},
		Tools: Tools{
			Qauto:    "qauto",
			Blur:     "blur",
			Plambda:  "plambda",
			SGBM:     "sgbm",
			SiftROI:  "sift_roi",
			MatchCLI: "match_cli",
			Ransac:   "ransac",
		},
		Preprocess: Preprocess{
			Equalize:   true,
			BlurRadius: 1,
		},
		Sift: Sift{
			MaxPoints:   2000,
			MatchThresh: 0.6,
			ThreshDog:   0.0133,
			MinMatches:  10,
		},
		Journal: Journal{
			Enabled: true,
		},
		Logging: Logging{
			Format: "auto",
			Level:  "info",
		},
	}
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stereopipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stereopipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Tools.Qauto = strings.TrimSpace(c.Tools.Qauto)
	c.Tools.Blur = strings.TrimSpace(c.Tools.Blur)
	c.Tools.Plambda = strings.TrimSpace(c.Tools.Plambda)
	c.Tools.SGBM = strings.TrimSpace(c.Tools.SGBM)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	for name, value := range map[string]string{
		"tools.qauto":     c.Tools.Qauto,
		"tools.blur":      c.Tools.Blur,
		"tools.plambda":   c.Tools.Plambda,
		"tools.sgbm":      c.Tools.SGBM,
		"tools.sift_roi":  c.Tools.SiftROI,
		"tools.match_cli": c.Tools.MatchCLI,
		"tools.ransac":    c.Tools.Ransac,
	} {
		if value == "" {
			return fmt.Errorf("%s must name an executable", name)
		}
	}
	if c.Preprocess.BlurRadius <= 0 {
		return fmt.Errorf("preprocess.blur_radius must be positive, got %g", c.Preprocess.BlurRadius)
	}
	if c.Sift.MaxPoints <= 0 {
		return fmt.Errorf("sift.max_points must be positive, got %d", c.Sift.MaxPoints)
	}
	if c.Sift.MatchThresh <= 0 {
		return fmt.Errorf("sift.match_thresh must be positive, got %g", c.Sift.MatchThresh)
	}
	if c.Sift.ThreshDog <= 0 {
		return fmt.Errorf("sift.thresh_dog must be positive, got %g", c.Sift.ThreshDog)
	}
	if c.Sift.MinMatches <= 0 {
		return fmt.Errorf("sift.min_matches must be positive, got %d", c.Sift.MinMatches)
	}
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console, or json, got %q", c.Logging.Format)
	}
	return nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the run journal database location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.LogDir, "journal.db")
}

// LockPath returns the workspace lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.WorkDir, "stereopipe.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
