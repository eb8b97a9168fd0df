package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// StartRunStep opens a new step row as running and returns its id.
func (db *DB) StartRunStep(ctx context.Context, runID uuid.UUID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO run_steps (run_id, name, status, started_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id`,
		runID, name, StepStatusRunning,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start run step %s: %w", name, err)
	}
	return id, nil
}

// CloseRunStep closes an open step as success or failed. The finished_at guard
// makes closed steps immutable.
func (db *DB) CloseRunStep(ctx context.Context, stepID uuid.UUID, status string, detail string) error {
	if status != StepStatusSuccess && status != StepStatusFailed {
		return fmt.Errorf("invalid closing status %q", status)
	}
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE run_steps SET status = $1, detail = $2, finished_at = NOW()
		 WHERE id = $3 AND finished_at IS NULL`,
		status, detailPtr, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to close run step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %s is already closed", stepID)
	}
	return nil
}

// ListRunSteps retrieves a run's steps in start order.
func (db *DB) ListRunSteps(ctx context.Context, runID uuid.UUID) ([]RunStep, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, name, status, started_at, finished_at, detail, created_at
		 FROM run_steps WHERE run_id = $1 ORDER BY started_at, created_at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var steps []RunStep
	for rows.Next() {
		var step RunStep
		if err := rows.Scan(&step.ID, &step.RunID, &step.Name, &step.Status,
			&step.StartedAt, &step.FinishedAt, &step.Detail, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
