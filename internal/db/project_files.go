package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ListProjectFiles retrieves a project's registered input files.
func (db *DB) ListProjectFiles(ctx context.Context, projectID uuid.UUID) ([]ProjectFile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, project_id, filename, storage_path, size_bytes, oversized, summary_text, created_at
		 FROM project_files WHERE project_id = $1 ORDER BY filename`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project files: %w", err)
	}
	defer rows.Close()

	var files []ProjectFile
	for rows.Next() {
		var f ProjectFile
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Filename, &f.StoragePath,
			&f.SizeBytes, &f.Oversized, &f.SummaryText, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// CreateProjectFile registers an input file for a project. Used by the import
// tooling and by integration tests; runs never write this table.
func (db *DB) CreateProjectFile(ctx context.Context, f *ProjectFile) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO project_files (project_id, filename, storage_path, size_bytes, oversized, summary_text)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		f.ProjectID, f.Filename, f.StoragePath, f.SizeBytes, f.Oversized, f.SummaryText,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create project file: %w", err)
	}
	return id, nil
}
