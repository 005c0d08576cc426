package imscript

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stereopipe/internal/config"
	"stereopipe/internal/services"
)

type call struct {
	name string
	args []string
}

func recordingRunner(calls *[]call, output string, err error) CommandRunner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		return []byte(output), err
	}
}

func TestStretchParsesThresholds(t *testing.T) {
	var calls []call
	client := NewClient(nil, nil, WithRunner(recordingRunner(&calls, "qauto: range [12.5, 987]\n", nil)))

	thresholds, err := client.Stretch(context.Background(), "left.tif", "left.png")
	if err != nil {
		t.Fatalf("stretch: %v", err)
	}
	if thresholds.Min != 12.5 || thresholds.Max != 987 {
		t.Fatalf("unexpected thresholds %+v", thresholds)
	}
	if len(calls) != 1 || calls[0].name != "qauto" {
		t.Fatalf("unexpected invocation %+v", calls)
	}
	if got := strings.Join(calls[0].args, " "); got != "left.tif left.png" {
		t.Fatalf("unexpected argv %q", got)
	}
}

func TestStretchWithForwardsThresholds(t *testing.T) {
	var calls []call
	client := NewClient(nil, nil, WithRunner(recordingRunner(&calls, "", nil)))

	err := client.StretchWith(context.Background(), "right.tif", "right.png", Thresholds{Min: 12.5, Max: 987})
	if err != nil {
		t.Fatalf("stretch with: %v", err)
	}
	want := "-m 12.5 -M 987 right.tif right.png"
	if got := strings.Join(calls[0].args, " "); got != want {
		t.Fatalf("argv %q, want %q", got, want)
	}
}

func TestStretchReportsUnparsableOutput(t *testing.T) {
	var calls []call
	client := NewClient(nil, nil, WithRunner(recordingRunner(&calls, "no numbers here\n", nil)))

	_, err := client.Stretch(context.Background(), "a.tif", "a.png")
	if err == nil {
		t.Fatal("expected threshold parse error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestGaussianBlurArgs(t *testing.T) {
	var calls []call
	cfg := config.Default()
	cfg.Tools.Blur = "/opt/imscript/blur"
	client := NewClient(&cfg, nil, WithRunner(recordingRunner(&calls, "", nil)))

	if err := client.GaussianBlur(context.Background(), 1.5, "in.png", "out.png"); err != nil {
		t.Fatalf("blur: %v", err)
	}
	if calls[0].name != "/opt/imscript/blur" {
		t.Fatalf("configured binary not used: %q", calls[0].name)
	}
	if got := strings.Join(calls[0].args, " "); got != "g 1.5 in.png out.png" {
		t.Fatalf("unexpected argv %q", got)
	}
}

func TestFilterArgs(t *testing.T) {
	var calls []call
	client := NewClient(nil, nil, WithRunner(recordingRunner(&calls, "", nil)))

	if err := client.Filter(context.Background(), LaplacianExpr, "in.png", "out.png"); err != nil {
		t.Fatalf("filter: %v", err)
	}
	args := calls[0].args
	if len(args) != 4 || args[0] != "in.png" || args[1] != LaplacianExpr || args[2] != "-o" || args[3] != "out.png" {
		t.Fatalf("unexpected argv %v", args)
	}
}

func TestToolFailureIncludesOutput(t *testing.T) {
	var calls []call
	runErr := errors.New("exit status 1")
	client := NewClient(nil, nil, WithRunner(recordingRunner(&calls, "blur: cannot open in.png", runErr)))

	err := client.GaussianBlur(context.Background(), 1, "in.png", "out.png")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if !strings.Contains(err.Error(), "cannot open in.png") {
		t.Fatalf("tool output missing from error: %q", err.Error())
	}
}

func TestParseThresholdsPicksLastNumericLine(t *testing.T) {
	output := "reading image 1024x768\nqauto: min=3 max=250\n"
	thresholds, err := parseThresholds([]byte(output))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if thresholds.Min != 3 || thresholds.Max != 250 {
		t.Fatalf("unexpected thresholds %+v", thresholds)
	}
}
