package db

import (
	"time"

	"github.com/google/uuid"
)

// Step status values. A step row is created as running when the stage begins
// and closed exactly once as success or failed; closed rows are never mutated.
const (
	StepStatusRunning = "running"
	StepStatusSuccess = "success"
	StepStatusFailed  = "failed"
)

// RunStep is the audit record of one pipeline stage within a run. Steps are
// not a retry unit: a failed step fails the whole run.
type RunStep struct {
	ID         uuid.UUID  `json:"id"`
	RunID      uuid.UUID  `json:"run_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Detail     *string    `json:"detail,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
