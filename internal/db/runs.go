package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateRun inserts the durable twin of an in-memory job. The caller supplies
// the id so the in-memory table and the row agree from the start.
func (db *DB) CreateRun(ctx context.Context, run *Run) error {
	paramsJSON, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal run parameters: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, mode, research_mode, status, parameters,
		                   parent_run_id, included_file_ids, instructions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.ProjectID, run.Mode, run.ResearchMode, RunStatusPending,
		paramsJSON, run.ParentRunID, run.IncludedFileIDs, run.Instructions,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// MarkRunStarted transitions a pending run to running and stamps started_at.
// The status guard keeps transitions monotonic even if callers misbehave.
func (db *DB) MarkRunStarted(ctx context.Context, runID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, started_at = NOW()
		 WHERE id = $2 AND status = $3`,
		RunStatusRunning, runID, RunStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not pending", runID)
	}
	return nil
}

// MarkRunSucceeded closes a running run as success, recording the result path.
func (db *DB) MarkRunSucceeded(ctx context.Context, runID uuid.UUID, resultPath string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, result_path = $2, finished_at = NOW()
		 WHERE id = $3 AND status = $4`,
		RunStatusSuccess, resultPath, runID, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not running", runID)
	}
	return nil
}

// MarkRunFailed closes a running run as failed with the verbatim error text.
func (db *DB) MarkRunFailed(ctx context.Context, runID uuid.UUID, errorMessage string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error_message = $2, finished_at = NOW()
		 WHERE id = $3 AND status IN ($4, $5)`,
		RunStatusFailed, errorMessage, runID, RunStatusPending, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is already terminal", runID)
	}
	return nil
}

// SetRunVariablesArtifact records which artifact holds the run's extracted
// variables, for later quick regeneration.
func (db *DB) SetRunVariablesArtifact(ctx context.Context, runID, artifactID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE runs SET variables_artifact_id = $1 WHERE id = $2`,
		artifactID, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to set variables artifact: %w", err)
	}
	return nil
}

const runColumns = `id, project_id, mode, research_mode, status, parameters,
	error_message, result_path, parent_run_id, included_file_ids, instructions,
	variables_artifact_id, created_at, started_at, finished_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var paramsJSON []byte
	err := row.Scan(&run.ID, &run.ProjectID, &run.Mode, &run.ResearchMode,
		&run.Status, &paramsJSON, &run.ErrorMessage, &run.ResultPath,
		&run.ParentRunID, &run.IncludedFileIDs, &run.Instructions,
		&run.VariablesArtifactID, &run.CreatedAt, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &run.Parameters)
	}
	return &run, nil
}

// GetRun retrieves a run by id. Returns (nil, nil) when the run does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first, optionally scoped to a project.
func (db *DB) ListRuns(ctx context.Context, projectID *uuid.UUID, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE ($1::uuid IS NULL OR project_id = $1)
		 ORDER BY created_at DESC LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run and, via cascade, its steps, artifacts and versions.
func (db *DB) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}
