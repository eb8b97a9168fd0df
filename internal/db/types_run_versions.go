package db

import (
	"time"

	"github.com/google/uuid"
)

// RunVersion records one regeneration of a run's document. Version 1 is the
// run's original result, so stored versions start at 2. Rows are immutable.
type RunVersion struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"run_id"`
	Version     int       `json:"version"`
	Content     string    `json:"content"`
	Feedback    []string  `json:"feedback,omitempty"`
	Questions   []string  `json:"questions,omitempty"`
	GraphicPath *string   `json:"graphic_path,omitempty"`
	ChangeNote  string    `json:"change_note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectFile is a registered input file of a project, as consumed by the
// workspace synchronizer. The business columns live with the upload service;
// only the sync-relevant ones are read here.
type ProjectFile struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	SizeBytes   int64     `json:"size_bytes"`
	Oversized   bool      `json:"oversized"`
	SummaryText *string   `json:"summary_text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
