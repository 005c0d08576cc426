// Package deps reports availability of the external binaries the pipeline
// invokes.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"stereopipe/internal/config"
)

// Requirement defines an external dependency stereopipe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements builds the dependency list from the configured tool names.
func Requirements(cfg *config.Config) []Requirement {
	tools := config.Default().Tools
	if cfg != nil {
		tools = cfg.Tools
	}
	return []Requirement{
		{Name: "qauto", Command: tools.Qauto, Description: "auto contrast stretch and TIFF to PNG conversion"},
		{Name: "blur", Command: tools.Blur, Description: "Gaussian blur for illumination equalization", Optional: true},
		{Name: "plambda", Command: tools.Plambda, Description: "pixel expression evaluator (Laplacian filter)", Optional: true},
		{Name: "sgbm", Command: tools.SGBM, Description: "semi-global stereo matcher"},
		{Name: "sift_roi", Command: tools.SiftROI, Description: "SIFT keypoint extraction over a region of interest", Optional: true},
		{Name: "match_cli", Command: tools.MatchCLI, Description: "SIFT descriptor matching", Optional: true},
		{Name: "ransac", Command: tools.Ransac, Description: "RANSAC outlier filtering for keypoint matches", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable non-optional dependencies.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Name)
		}
	}
	return missing
}
