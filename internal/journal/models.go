package journal

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline run.
type Status string

const (
	StatusPending     Status = "pending"
	StatusNormalizing Status = "normalizing"
	StatusNormalized  Status = "normalized"
	StatusEqualizing  Status = "equalizing"
	StatusEqualized   Status = "equalized"
	StatusMatching    Status = "matching"
	StatusMatched     Status = "matched"
	StatusMasking     Status = "masking"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusNormalizing,
	StatusNormalized,
	StatusEqualizing,
	StatusEqualized,
	StatusMatching,
	StatusMatched,
	StatusMasking,
	StatusCompleted,
	StatusFailed,
}

// Valid reports whether the status is one of the known lifecycle values.
func (s Status) Valid() bool {
	for _, status := range allStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether the run reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Params carries the matching parameters recorded for a run.
type Params struct {
	MinDisparity int
	MaxDisparity int
	WindowSize   int
	P1           float64
	P2           float64
	LRThreshold  float64
}

// Run represents one pipeline invocation persisted in SQLite.
type Run struct {
	ID              int64
	RunID           string
	LeftInput       string
	RightInput      string
	StagedLeft      string
	StagedRight     string
	DisparityPath   string
	MaskPath        string
	WorkspaceDir    string
	Params          Params
	Status          Status
	ProgressStage   string
	ProgressMessage string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SetFailed transitions the run to the failed state with a trimmed message.
func (r *Run) SetFailed(message string) {
	r.Status = StatusFailed
	r.ErrorMessage = strings.TrimSpace(message)
}
