// Package vectorstore persists and searches scope embeddings in PostgreSQL
// via pgvector. Records are independent of run lifecycle: the historical
// corpus survives run deletion.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// KindScope tags records holding finished scope documents.
const KindScope = "scope"

// Metadata carries the denormalized fields needed for ranking and reporting
// without a second fetch.
type Metadata struct {
	Title          string   `json:"title,omitempty"`
	EffortHours    float64  `json:"effort_hours,omitempty"`
	TimelineWeeks  float64  `json:"timeline_weeks,omitempty"`
	MilestoneCount int      `json:"milestone_count,omitempty"`
	CostEstimate   float64  `json:"cost_estimate,omitempty"`
	Services       []string `json:"services,omitempty"`
	Snippet        string   `json:"snippet,omitempty"`
}

// Record is one stored embedding with its metadata. Similarity is populated
// on search results only (cosine similarity, 1 = identical direction).
type Record struct {
	ID         uuid.UUID  `json:"id"`
	ProjectID  *uuid.UUID `json:"project_id,omitempty"`
	Kind       string     `json:"kind"`
	Metadata   Metadata   `json:"metadata"`
	Similarity float64    `json:"similarity,omitempty"`
}

// Store reads and writes the scope_embeddings table.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool. The pool must have pgvector types
// registered (db.Connect does this).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert adds an embedding record. A nil projectID marks the record as part
// of the global/historical corpus.
func (s *Store) Insert(ctx context.Context, projectID *uuid.UUID, kind string, embedding []float32, md Metadata) (uuid.UUID, error) {
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal embedding metadata: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx,
		`INSERT INTO scope_embeddings (project_id, kind, embedding, metadata)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		projectID, kind, pgvector.NewVector(embedding), mdJSON,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert embedding: %w", err)
	}
	return id, nil
}

// Search runs a cosine-distance nearest-neighbour query. A nil projectID
// searches the global corpus; a non-nil one scopes to that project.
func (s *Store) Search(ctx context.Context, embedding []float32, projectID *uuid.UUID, kind string, topK int) ([]Record, error) {
	if topK <= 0 {
		topK = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, kind, metadata, 1 - (embedding <=> $1) AS similarity
		 FROM scope_embeddings
		 WHERE kind = $2 AND ($3::uuid IS NULL OR project_id = $3)
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		pgvector.NewVector(embedding), kind, projectID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var mdJSON []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Kind, &mdJSON, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if len(mdJSON) > 0 {
			_ = json.Unmarshal(mdJSON, &r.Metadata)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
