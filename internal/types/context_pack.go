package types

import (
	"time"

	"github.com/google/uuid"
)

// FileContext describes one synced input file inside a context pack.
// It carries metadata only; document content travels separately as evidence.
type FileContext struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Strategy  string `json:"strategy"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
	Note      string `json:"note,omitempty"`
}

// ContextPack is a lightweight, non-model-generated summary of a run's input
// documents. It grounds the extraction prompt and seeds the similarity query
// profile for historical reference retrieval.
type ContextPack struct {
	ProjectID        uuid.UUID     `json:"project_id"`
	ProjectType      string        `json:"project_type,omitempty"`
	Files            []FileContext `json:"files"`
	IntegrationNotes []string      `json:"integration_notes,omitempty"`
	BuiltAt          time.Time     `json:"built_at"`
}
