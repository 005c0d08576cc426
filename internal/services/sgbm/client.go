// Package sgbm invokes the external semi-global stereo matcher. The matcher's
// algorithm (multi-direction cost aggregation, dynamic-programming disparity
// selection, left-right cross check) is opaque to this package; it only
// assembles the positional argument list and classifies process failures.
package sgbm

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

// CommandRunner executes an external binary and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Params carries the matching parameters forwarded to the matcher.
//
// The matcher's own contract requires an odd WindowSize >= 1 and P2 > P1;
// those constraints are enforced by the binary, not here.
type Params struct {
	MinDisparity int
	MaxDisparity int
	WindowSize   int
	P1           float64
	P2           float64
	LRThreshold  float64
}

// Request names the matcher's inputs and outputs.
type Request struct {
	Left         string
	Right        string
	DisparityOut string
	MinAuxOut    string
	MaxAuxOut    string
	Params       Params
}

// Client invokes the configured matcher binary.
type Client struct {
	binary string
	runner CommandRunner
	logger *slog.Logger
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

// NewClient builds a matcher client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	binary := config.Default().Tools.SGBM
	if cfg != nil {
		binary = cfg.Tools.SGBM
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		binary: binary,
		runner: runCommand,
		logger: logger.With(logging.String(logging.FieldComponent, "sgbm")),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Args returns the matcher's positional argument list for req, in the order
// the binary expects: left, right, disparity out, min/max auxiliary outs,
// then the six matching parameters.
func Args(req Request) []string {
	p := req.Params
	return []string{
		req.Left,
		req.Right,
		req.DisparityOut,
		req.MinAuxOut,
		req.MaxAuxOut,
		strconv.Itoa(p.MinDisparity),
		strconv.Itoa(p.MaxDisparity),
		strconv.Itoa(p.WindowSize),
		formatFloat(p.P1),
		formatFloat(p.P2),
		formatFloat(p.LRThreshold),
	}
}

// Match runs the matcher to completion. A non-zero exit is a hard failure:
// the disparity output must not be trusted afterwards, so the error carries
// ErrExternalTool and the tail of the matcher's output.
func (c *Client) Match(ctx context.Context, req Request) error {
	args := Args(req)
	c.logger.Debug("invoking matcher",
		logging.String("binary", c.binary),
		logging.String("args", strings.Join(args, " ")),
	)

	output, err := c.runner(ctx, c.binary, args...)
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, tail(detail, 400))
		}
		return services.Wrap(services.ErrExternalTool, "match", "invoke matcher", c.binary, err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
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
