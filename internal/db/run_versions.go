package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NextRunVersion returns the version number the next regeneration of this run
// should use. Version 1 is the run's original result, so the floor is 2.
func (db *DB) NextRunVersion(ctx context.Context, runID uuid.UUID) (int, error) {
	var next int
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 1) + 1 FROM run_versions WHERE run_id = $1`,
		runID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next version: %w", err)
	}
	return next, nil
}

// CreateRunVersion records one regeneration of a run's document.
func (db *DB) CreateRunVersion(ctx context.Context, v *RunVersion) (uuid.UUID, error) {
	feedbackJSON, err := json.Marshal(v.Feedback)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal feedback: %w", err)
	}
	questionsJSON, err := json.Marshal(v.Questions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal questions: %w", err)
	}

	var id uuid.UUID
	err = db.pool.QueryRow(ctx,
		`INSERT INTO run_versions (run_id, version, content, feedback, questions, graphic_path, change_note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		v.RunID, v.Version, v.Content, feedbackJSON, questionsJSON, v.GraphicPath, v.ChangeNote,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run version %d: %w", v.Version, err)
	}
	return id, nil
}

// ListRunVersions retrieves a run's regeneration history, oldest first.
func (db *DB) ListRunVersions(ctx context.Context, runID uuid.UUID) ([]RunVersion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, version, content, feedback, questions, graphic_path, change_note, created_at
		 FROM run_versions WHERE run_id = $1 ORDER BY version ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run versions: %w", err)
	}
	defer rows.Close()

	var versions []RunVersion
	for rows.Next() {
		var v RunVersion
		var feedbackJSON, questionsJSON []byte
		if err := rows.Scan(&v.ID, &v.RunID, &v.Version, &v.Content,
			&feedbackJSON, &questionsJSON, &v.GraphicPath, &v.ChangeNote, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run version: %w", err)
		}
		if len(feedbackJSON) > 0 {
			_ = json.Unmarshal(feedbackJSON, &v.Feedback)
		}
		if len(questionsJSON) > 0 {
			_ = json.Unmarshal(questionsJSON, &v.Questions)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
