package reference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/martin/scope-generator/internal/types"
	"github.com/martin/scope-generator/internal/vectorstore"
)

// InsertStore writes embedding records. *vectorstore.Store satisfies this.
type InsertStore interface {
	Insert(ctx context.Context, projectID *uuid.UUID, kind string, embedding []float32, md Metadata) (uuid.UUID, error)
}

// Metadata aliases the store's metadata type so callers only import one
// package.
type Metadata = vectorstore.Metadata

// Indexer adds finished scope documents to the similarity corpus so later
// runs can reference them.
type Indexer struct {
	store    InsertStore
	embedder Embedder
}

func NewIndexer(store InsertStore, embedder Embedder) *Indexer {
	return &Indexer{store: store, embedder: embedder}
}

// IndexScopeVariables embeds and stores one run's extracted variables. The
// embedding text mirrors the query profile shape so stored records and live
// queries stay comparable.
func (ix *Indexer) IndexScopeVariables(ctx context.Context, projectID uuid.UUID, vars *types.ScopeVariables) error {
	text := embeddingTextFromVariables(vars)
	embedding, err := ix.embedder.EmbedText(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed scope variables: %w", err)
	}

	_, err = ix.store.Insert(ctx, &projectID, vectorstore.KindScope, embedding, Metadata{
		Title:          vars.Title,
		EffortHours:    vars.EffortHours,
		TimelineWeeks:  vars.TimelineWeeks,
		MilestoneCount: len(vars.Milestones),
		CostEstimate:   vars.CostEstimate,
		Services:       vars.Services,
		Snippet:        vars.Summary,
	})
	if err != nil {
		return fmt.Errorf("failed to store scope embedding: %w", err)
	}
	return nil
}

func embeddingTextFromVariables(vars *types.ScopeVariables) string {
	parts := []string{"project_type: " + vars.ProjectType}
	if len(vars.IntegrationNotes) > 0 {
		parts = append(parts, "integrations: "+strings.Join(vars.IntegrationNotes, ", "))
	}
	if len(vars.Services) > 0 {
		parts = append(parts, "services: "+strings.Join(vars.Services, ", "))
	}
	return strings.Join(parts, "; ")
}
