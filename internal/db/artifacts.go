package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateArtifact records a durable output file produced by a run.
func (db *DB) CreateArtifact(ctx context.Context, runID uuid.UUID, kind, path string, metadata map[string]interface{}) (uuid.UUID, error) {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal artifact metadata: %w", err)
	}

	var id uuid.UUID
	err = db.pool.QueryRow(ctx,
		`INSERT INTO artifacts (run_id, kind, path, metadata)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		runID, kind, path, metadataJSON,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create artifact %s: %w", kind, err)
	}
	return id, nil
}

const artifactColumns = `id, run_id, kind, path, metadata, created_at`

func scanArtifact(row pgx.Row) (*Artifact, error) {
	var a Artifact
	var metadataJSON []byte
	if err := row.Scan(&a.ID, &a.RunID, &a.Kind, &a.Path, &metadataJSON, &a.CreatedAt); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &a.Metadata)
	}
	return &a, nil
}

// LatestArtifact retrieves the most recent artifact of a kind owned by a run.
// Returns (nil, nil) when the run has none.
func (db *DB) LatestArtifact(ctx context.Context, runID uuid.UUID, kind string) (*Artifact, error) {
	a, err := scanArtifact(db.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts
		 WHERE run_id = $1 AND kind = $2
		 ORDER BY created_at DESC LIMIT 1`,
		runID, kind))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest artifact %s: %w", kind, err)
	}
	return a, nil
}

// GetArtifact retrieves an artifact by id. Returns (nil, nil) when absent.
func (db *DB) GetArtifact(ctx context.Context, artifactID uuid.UUID) (*Artifact, error) {
	a, err := scanArtifact(db.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, artifactID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return a, nil
}

// LatestProjectArtifact retrieves the most recent artifact of a kind across a
// project's successful runs. Fast mode uses this as its context-pack cache.
func (db *DB) LatestProjectArtifact(ctx context.Context, projectID uuid.UUID, kind string) (*Artifact, error) {
	a, err := scanArtifact(db.pool.QueryRow(ctx,
		`SELECT a.id, a.run_id, a.kind, a.path, a.metadata, a.created_at
		 FROM artifacts a JOIN runs r ON r.id = a.run_id
		 WHERE r.project_id = $1 AND a.kind = $2 AND r.status = $3
		 ORDER BY a.created_at DESC LIMIT 1`,
		projectID, kind, RunStatusSuccess))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest project artifact %s: %w", kind, err)
	}
	return a, nil
}

// ListArtifacts retrieves a run's artifacts in creation order.
func (db *DB) ListArtifacts(ctx context.Context, runID uuid.UUID) ([]Artifact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM artifacts
		 WHERE run_id = $1 ORDER BY created_at ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}
