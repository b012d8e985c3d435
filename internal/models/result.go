package models

import "time"

// ExecutionMode records which execution path actually ran an Action.
type ExecutionMode string

const (
	// ModeService forwards mutations to the privileged helper daemon.
	ModeService ExecutionMode = "service"
	// ModeDevelopment executes mutations in-process. Local testing only.
	ModeDevelopment ExecutionMode = "development"
)

// ExecutionResult is produced by the permission boundary for every execution
// attempt, success or failure.
type ExecutionResult struct {
	Success bool
	Output  string
	Error   string
	Mode    ExecutionMode
	// Suggestion carries operator-actionable remediation text when
	// Success is false, e.g. how to start the helper service.
	Suggestion string
	Duration   time.Duration
}
