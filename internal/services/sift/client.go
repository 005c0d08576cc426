// Package sift wraps the external sparse keypoint matching tools: sift_roi
// (SIFT keypoint extraction over a region of interest), match_cli (descriptor
// matching), and ransac (model-based outlier filtering). The binaries are
// opaque collaborators; this package builds argument lists, moves match data
// between them, and retries extraction with a lowered detection threshold
// when too few matches survive filtering.
package sift

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"stereopipe/internal/config"
	"stereopipe/internal/fileutil"
	"stereopipe/internal/logging"
	"stereopipe/internal/services"
)

// CommandRunner executes an external binary with the given standard input and
// returns its standard output. match_cli emits matches on stdout and ransac
// reads them back on stdin, so unlike the other tool clients this runner is
// stdin-aware.
type CommandRunner func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)

// ROI is a rectangular region of interest: top-left corner plus dimensions,
// in pixel coordinates of the full image.
type ROI struct {
	X int
	Y int
	W int
	H int
}

func (r ROI) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// Descriptor distance methods accepted by match_cli. Relative compares the
// nearest-neighbor distance against the second nearest; absolute thresholds
// the raw descriptor distance.
const (
	MethodRelative = "relative"
	MethodAbsolute = "absolute"
)

// Models accepted by FilterMatches. Fundamental and Homography run a single
// RANSAC pass; HomFund chains a homography pass and a stricter fundamental
// pass.
type Model int

const (
	ModelNone Model = iota
	ModelFundamental
	ModelHomography
	ModelHomFund
)

// maxAttempts bounds the adaptive extraction loop in MatchPair.
const maxAttempts = 6

// Request names a stereo pair to match sparsely. Zero-valued tuning fields
// fall back to the configured sift defaults.
type Request struct {
	Left        string
	Right       string
	LeftROI     ROI
	RightROI    ROI
	MatchesOut  string
	MaxPoints   int
	MatchThresh float64
	ThreshDog   float64
	MinMatches  int
}

// Client invokes the configured sparse matching binaries.
type Client struct {
	siftROI  string
	matchCLI string
	ransac   string
	defaults config.Sift
	runner   CommandRunner
	logger   *slog.Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithRunner swaps the process executor, primarily for tests.
func WithRunner(runner CommandRunner) Option {
	return func(c *Client) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// NewClient builds a client from the configured tool names and sift defaults.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	defaultsCfg := config.Default()
	tools := defaultsCfg.Tools
	siftDefaults := defaultsCfg.Sift
	if cfg != nil {
		tools = cfg.Tools
		siftDefaults = cfg.Sift
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		siftROI:  tools.SiftROI,
		matchCLI: tools.MatchCLI,
		ransac:   tools.Ransac,
		defaults: siftDefaults,
		runner:   runCommand,
		logger:   logger.With(logging.String(logging.FieldComponent, "sift")),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ExtractKeypoints runs sift_roi over the given region of image, writing the
// descriptor list to keyfile. maxPoints caps the number of keypoints (the
// smallest scales are discarded first); threshDog sets the
// difference-of-Gaussians detection threshold. Non-positive values omit the
// corresponding flag, leaving the binary's own default in effect.
func (c *Client) ExtractKeypoints(ctx context.Context, image string, roi ROI, maxPoints int, threshDog float64, keyfile string) error {
	args := []string{image, strconv.Itoa(roi.X), strconv.Itoa(roi.Y), strconv.Itoa(roi.W), strconv.Itoa(roi.H)}
	if maxPoints > 0 {
		args = append(args, "--max-nb-pts", strconv.Itoa(maxPoints))
	}
	if threshDog > 0 {
		args = append(args, "--thresh-dog", formatFloat(threshDog))
	}
	args = append(args, "-o", keyfile)
	c.logger.Debug("extracting keypoints",
		logging.String("image", image),
		logging.String("roi", roi.String()),
	)
	if _, err := c.runner(ctx, nil, c.siftROI, args...); err != nil {
		return c.wrapToolErr(c.siftROI, "extract keypoints", err)
	}
	return nil
}

// MatchKeypoints runs match_cli over two descriptor lists and writes the
// resulting matches, one "x1 y1 x2 y2" line per pair, to matchesOut. The
// matches arrive on the tool's standard output.
func (c *Client) MatchKeypoints(ctx context.Context, k1, k2, method string, thresh float64, matchesOut string) error {
	args := []string{k1, k2, "-" + method, formatFloat(thresh)}
	output, err := c.runner(ctx, nil, c.matchCLI, args...)
	if err != nil {
		return c.wrapToolErr(c.matchCLI, "match keypoints", err)
	}
	if err := os.WriteFile(matchesOut, output, 0o644); err != nil {
		return services.Wrap(services.ErrExternalTool, "sift", "match keypoints", matchesOut, err)
	}
	return nil
}

// FilterMatches filters the matches file in place with one or more RANSAC
// passes for the given model. Each pass feeds the current file to the tool on
// stdin and replaces the file with the surviving inliers. ModelNone is a
// no-op.
func (c *Client) FilterMatches(ctx context.Context, matchesPath string, model Model) error {
	for _, pass := range ransacPasses(model) {
		if err := c.ransacPass(ctx, matchesPath, pass); err != nil {
			return err
		}
	}
	return nil
}

// MatchPair extracts, matches, and RANSAC-filters keypoints for a stereo
// pair, writing the surviving matches to req.MatchesOut and returning their
// count. When fewer than MinMatches survive, the detection threshold is
// halved and the whole round repeats, up to a bounded number of attempts; the
// last round's matches are kept either way.
func (c *Client) MatchPair(ctx context.Context, req Request) (int, error) {
	req = c.withDefaults(req)
	tmpDir, err := os.MkdirTemp("", "stereopipe-sift-")
	if err != nil {
		return 0, services.Wrap(services.ErrConfiguration, "sift", "match pair", "create scratch directory", err)
	}
	defer os.RemoveAll(tmpDir)

	leftKeys := filepath.Join(tmpDir, "left.key")
	rightKeys := filepath.Join(tmpDir, "right.key")

	threshDog := req.ThreshDog
	count := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.logger.Debug("sparse matching attempt",
			logging.Int("attempt", attempt),
			logging.Float64("thresh_dog", threshDog),
		)
		if err := c.ExtractKeypoints(ctx, req.Left, req.LeftROI, req.MaxPoints, threshDog, leftKeys); err != nil {
			return 0, err
		}
		if err := c.ExtractKeypoints(ctx, req.Right, req.RightROI, req.MaxPoints, threshDog, rightKeys); err != nil {
			return 0, err
		}
		if err := c.MatchKeypoints(ctx, leftKeys, rightKeys, MethodRelative, req.MatchThresh, req.MatchesOut); err != nil {
			return 0, err
		}
		if err := c.FilterMatches(ctx, req.MatchesOut, ModelFundamental); err != nil {
			return 0, err
		}
		count, err = countMatches(req.MatchesOut)
		if err != nil {
			return 0, err
		}
		if count > req.MinMatches {
			break
		}
		threshDog /= 2
	}
	if count <= req.MinMatches {
		c.logger.Warn("sparse matching below target after all attempts",
			logging.Int("matches", count),
			logging.Int("target", req.MinMatches),
		)
	}
	return count, nil
}

func (c *Client) withDefaults(req Request) Request {
	if req.MaxPoints <= 0 {
		req.MaxPoints = c.defaults.MaxPoints
	}
	if req.MatchThresh <= 0 {
		req.MatchThresh = c.defaults.MatchThresh
	}
	if req.ThreshDog <= 0 {
		req.ThreshDog = c.defaults.ThreshDog
	}
	if req.MinMatches <= 0 {
		req.MinMatches = c.defaults.MinMatches
	}
	return req
}

// ransacPasses returns the ransac argument lists for a model, without the
// trailing output path. The trial counts, inlier tolerances, and minimal
// sample sizes are the tool's conventional settings for each model.
func ransacPasses(model Model) [][]string {
	switch model {
	case ModelFundamental:
		return [][]string{{"fmn", "1000", ".3", "7"}}
	case ModelHomography:
		return [][]string{{"hom", "1000", "1", "4", "/dev/null", "/dev/null"}}
	case ModelHomFund:
		return [][]string{
			{"hom", "1000", "2", "4", "/dev/null", "/dev/null"},
			{"fmn", "1000", ".2", "7"},
		}
	}
	return nil
}

// ransacPass runs one RANSAC pass over matchesPath. The current matches feed
// the tool on stdin; the inliers land in a sibling temp file that then
// replaces the original, so a failed pass leaves the matches untouched.
func (c *Client) ransacPass(ctx context.Context, matchesPath string, pass []string) error {
	data, err := os.ReadFile(matchesPath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "sift", "filter matches", matchesPath, err)
	}
	filtered := matchesPath + ".ransac"
	args := append(append([]string(nil), pass...), filtered)
	if _, err := c.runner(ctx, bytes.NewReader(data), c.ransac, args...); err != nil {
		os.Remove(filtered)
		return c.wrapToolErr(c.ransac, "filter matches", err)
	}
	if err := fileutil.ReplaceFile(filtered, matchesPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "sift", "filter matches", matchesPath, err)
	}
	return nil
}

// countMatches counts the non-blank lines of a matches file.
func countMatches(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "sift", "count matches", path, err)
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

func runCommand(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.Stdin = stdin
	return cmd.Output()
}

func (c *Client) wrapToolErr(binary, operation string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if detail := strings.TrimSpace(string(exitErr.Stderr)); detail != "" {
			err = fmt.Errorf("%w: %s", err, tail(detail, 400))
		}
	}
	return services.Wrap(services.ErrExternalTool, "sift", operation, binary, err)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
