// Package state persists run history and task fingerprints under the
// project's .runbook directory.
package state

import (
	"errors"
	"strings"
	"time"
)

// TaskRecord is the terminal outcome of one task within a run.
type TaskRecord struct {
	// State is the terminal graph state (DONE, FAILED, SKIPPED, FRESH).
	State string `json:"state"`

	// ExitCode is the task's exit code. Zero for fresh and skipped tasks.
	ExitCode int `json:"exit_code"`

	// DurationMS is the task's wall-clock duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Run is the persisted record of one runner invocation.
type Run struct {
	// RunID is a UUID assigned at the start of the invocation.
	RunID string `json:"run_id"`

	// StartTime is UTC wall-clock start of the invocation.
	StartTime time.Time `json:"start_time"`

	// Targets are the requested task names in request order.
	Targets []string `json:"targets"`

	// Mode is "serial", "parallel", or "watch".
	Mode string `json:"mode"`

	// Status is "succeeded" or "failed".
	Status string `json:"status"`

	// Tasks maps task name to its terminal record.
	Tasks map[string]TaskRecord `json:"tasks,omitempty"`
}

// Validate checks the record's required fields.
func (r Run) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run_id is required")
	}
	if r.StartTime.IsZero() {
		return errors.New("start_time is required")
	}
	if len(r.Targets) == 0 {
		return errors.New("targets are required")
	}
	switch r.Mode {
	case "serial", "parallel", "watch":
	default:
		return errors.New("mode must be serial, parallel, or watch")
	}
	switch r.Status {
	case "succeeded", "failed":
	default:
		return errors.New("status must be succeeded or failed")
	}
	return nil
}

// FingerprintRecord stores the fingerprint of a task's last successful run.
type FingerprintRecord struct {
	// Task is the task name.
	Task string `json:"task"`

	// Fingerprint is the hex fingerprint at the time of success.
	Fingerprint string `json:"fingerprint"`

	// RunID links back to the run that recorded it.
	RunID string `json:"run_id"`

	// When is the UTC time of the recording.
	When time.Time `json:"when"`
}

// Validate checks the record's required fields.
func (f FingerprintRecord) Validate() error {
	if strings.TrimSpace(f.Task) == "" {
		return errors.New("task is required")
	}
	if strings.TrimSpace(f.Fingerprint) == "" {
		return errors.New("fingerprint is required")
	}
	return nil
}
