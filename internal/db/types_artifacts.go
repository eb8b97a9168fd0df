package db

import (
	"time"

	"github.com/google/uuid"
)

// Artifact kinds. The set is open-ended; these are the kinds the pipeline
// itself produces.
const (
	ArtifactContextPack     = "context_pack"
	ArtifactVariables       = "variables"
	ArtifactRenderedDoc     = "rendered_doc"
	ArtifactSolutionGraphic = "solution_graphic"
)

// Artifact is a durable output file owned by a run. Rows are immutable once
// created; downstream consumers only care about the latest artifact of a kind.
type Artifact struct {
	ID        uuid.UUID              `json:"id"`
	RunID     uuid.UUID              `json:"run_id"`
	Kind      string                 `json:"kind"`
	Path      string                 `json:"path"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
