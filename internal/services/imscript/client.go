// Package imscript wraps the external image tools the pipeline delegates to:
// qauto (auto contrast stretch), blur (Gaussian blur), and plambda (per-pixel
// expression evaluation). The tools are opaque collaborators; this package
// only builds argument lists and interprets qauto's reported thresholds.
package imscript

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"stereopipe/internal/config"
	"stereopipe/internal/logging"
	"stereopipe/internal/services"
)

// LaplacianExpr is the plambda expression for the discrete 4-neighbor
// Laplacian: 4*center - up - down - left - right. It suppresses low-frequency
// illumination gradients while keeping the structural edges used for matching.
const LaplacianExpr = "x 4 * x(0,-1) - x(0,1) - x(-1,0) - x(1,0) -"

// CommandRunner executes an external binary and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Thresholds holds the intensity range qauto stretched from. Reusing one
// image's thresholds on the other keeps a stereo pair radiometrically
// comparable.
type Thresholds struct {
	Min float64
	Max float64
}

func (t Thresholds) String() string {
	return fmt.Sprintf("[%s, %s]", formatFloat(t.Min), formatFloat(t.Max))
}

// Client invokes the imscript binaries named in configuration.
type Client struct {
	qauto   string
	blur    string
	plambda string
	runner  CommandRunner
	logger  *slog.Logger
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

// NewClient builds a client from the configured tool names.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	tools := config.Default().Tools
	if cfg != nil {
		tools = cfg.Tools
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		qauto:   tools.Qauto,
		blur:    tools.Blur,
		plambda: tools.Plambda,
		runner:  runCommand,
		logger:  logger.With(logging.String(logging.FieldComponent, "imscript")),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Stretch runs qauto on src, writing the stretched raster to dst, and returns
// the thresholds the tool chose. qauto reports the applied range on its
// diagnostic output as two numeric values.
func (c *Client) Stretch(ctx context.Context, src, dst string) (Thresholds, error) {
	output, err := c.runner(ctx, c.qauto, src, dst)
	if err != nil {
		return Thresholds{}, wrapToolErr(c.qauto, "stretch", output, err)
	}
	thresholds, err := parseThresholds(output)
	if err != nil {
		return Thresholds{}, services.Wrap(services.ErrExternalTool, "imscript", "stretch",
			fmt.Sprintf("parse qauto thresholds from %q", strings.TrimSpace(string(output))), err)
	}
	c.logger.Debug("contrast stretch complete",
		logging.String("source", src),
		logging.String("output", dst),
		logging.String("thresholds", thresholds.String()),
	)
	return thresholds, nil
}

// StretchWith runs qauto on src with a preset threshold range instead of
// letting the tool pick its own.
func (c *Client) StretchWith(ctx context.Context, src, dst string, thresholds Thresholds) error {
	args := []string{
		"-m", formatFloat(thresholds.Min),
		"-M", formatFloat(thresholds.Max),
		src, dst,
	}
	if output, err := c.runner(ctx, c.qauto, args...); err != nil {
		return wrapToolErr(c.qauto, "stretch with preset thresholds", output, err)
	}
	return nil
}

// GaussianBlur runs the blur tool with a Gaussian kernel of the given radius.
func (c *Client) GaussianBlur(ctx context.Context, radius float64, src, dst string) error {
	args := []string{"g", formatFloat(radius), src, dst}
	if output, err := c.runner(ctx, c.blur, args...); err != nil {
		return wrapToolErr(c.blur, "gaussian blur", output, err)
	}
	return nil
}

// Filter evaluates a plambda expression over src, writing the result to dst.
func (c *Client) Filter(ctx context.Context, expr, src, dst string) error {
	args := []string{src, expr, "-o", dst}
	if output, err := c.runner(ctx, c.plambda, args...); err != nil {
		return wrapToolErr(c.plambda, "evaluate pixel expression", output, err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

func wrapToolErr(binary, operation string, output []byte, err error) error {
	detail := strings.TrimSpace(string(output))
	if detail != "" {
		err = fmt.Errorf("%w: %s", err, tail(detail, 400))
	}
	return services.Wrap(services.ErrExternalTool, "imscript", operation, binary, err)
}

// parseThresholds extracts the stretch range from qauto's diagnostic output.
// The last output line carrying at least two numeric tokens wins; the first
// two numbers on it are taken as min and max.
func parseThresholds(output []byte) (Thresholds, error) {
	lines := strings.Split(string(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		values := numericTokens(lines[i])
		if len(values) >= 2 {
			return Thresholds{Min: values[0], Max: values[1]}, nil
		}
	}
	return Thresholds{}, fmt.Errorf("no threshold pair reported")
}

func numericTokens(line string) []float64 {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		switch r {
		case ' ', '\t', '=', ',', ':', '[', ']', '(', ')':
			return true
		}
		return false
	})
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		if v, err := strconv.ParseFloat(field, 64); err == nil {
			values = append(values, v)
		}
	}
	return values
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
