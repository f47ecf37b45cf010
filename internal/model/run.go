package model

import "time"

// RunStatus is the terminal disposition of a bot run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunKilled    RunStatus = "KILLED"
	RunCrashed   RunStatus = "CRASHED"
)

// Run records one process lifetime. At most one RUNNING run exists per
// process; unfinished runs are marked CRASHED by the next startup.
type Run struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	Status       RunStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// ErrorRecord is a persisted error occurrence attributed to a run.
type ErrorRecord struct {
	ID         int64          `json:"id"`
	RunID      string         `json:"run_id"`
	ErrorType  string         `json:"error_type"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Severity classifies ErrorEvents on the bus.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)
