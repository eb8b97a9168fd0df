package db

import (
	"time"

	"github.com/google/uuid"
)

// Run status values. Transitions are monotonic:
// pending -> running -> {success, failed}.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Step names form a closed set shared between the pipeline and the registry.
// The run_steps table only ever sees these values.
const (
	StepSyncInputs    = "sync_inputs"
	StepIngest        = "ingest"
	StepContextPack   = "context_pack"
	StepReference     = "reference_lookup"
	StepResearch      = "research"
	StepExtract       = "extract_variables"
	StepRender        = "render"
	StepPersist       = "persist_outputs"
	StepLoadVariables = "load_variables"
	StepRewrite       = "rewrite_variables"
)

// Run is the durable record of one generation run.
type Run struct {
	ID                  uuid.UUID              `json:"id"`
	ProjectID           uuid.UUID              `json:"project_id"`
	Mode                string                 `json:"mode"`
	ResearchMode        string                 `json:"research_mode"`
	Status              string                 `json:"status"`
	Parameters          map[string]interface{} `json:"parameters,omitempty"`
	ErrorMessage        *string                `json:"error_message,omitempty"`
	ResultPath          *string                `json:"result_path,omitempty"`
	ParentRunID         *uuid.UUID             `json:"parent_run_id,omitempty"`
	IncludedFileIDs     []uuid.UUID            `json:"included_file_ids,omitempty"`
	Instructions        string                 `json:"instructions,omitempty"`
	VariablesArtifactID *uuid.UUID             `json:"variables_artifact_id,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	StartedAt           *time.Time             `json:"started_at,omitempty"`
	FinishedAt          *time.Time             `json:"finished_at,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusFailed
}
