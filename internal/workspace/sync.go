// Package workspace materializes a project's registered input files into a
// run-local directory before the pipeline reads them.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/storage"
)

// summarySuffix names the sidecar written for oversized files. The ingestion
// package recognizes the same suffix.
const summarySuffix = ".summary.txt"

// FileLister lists the files registered for a project.
type FileLister interface {
	ListProjectFiles(ctx context.Context, projectID uuid.UUID) ([]db.ProjectFile, error)
}

// Synchronizer downloads project files from the storage backend into a
// run-local scratch directory.
type Synchronizer struct {
	files   FileLister
	backend storage.Backend
	log     *logger.Logger
}

func NewSynchronizer(files FileLister, backend storage.Backend, log *logger.Logger) *Synchronizer {
	return &Synchronizer{files: files, backend: backend, log: log}
}

// Sync clears and recreates dir, then materializes the project's files into
// it. When includedFileIDs is non-empty only those files are synced. A missing
// storage object is a warning and the sync continues; any other transfer
// failure is fatal and the caller should abort the run.
func (s *Synchronizer) Sync(ctx context.Context, projectID uuid.UUID, dir string, includedFileIDs []uuid.UUID) (fatal []error, warnings []string) {
	if err := os.RemoveAll(dir); err != nil {
		return []error{fmt.Errorf("failed to clear workspace dir: %w", err)}, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return []error{fmt.Errorf("failed to create workspace dir: %w", err)}, nil
	}

	files, err := s.files.ListProjectFiles(ctx, projectID)
	if err != nil {
		return []error{fmt.Errorf("failed to list project files: %w", err)}, nil
	}

	included := make(map[uuid.UUID]bool, len(includedFileIDs))
	for _, id := range includedFileIDs {
		included[id] = true
	}

	for _, f := range files {
		if len(included) > 0 && !included[f.ID] {
			continue
		}

		if f.Oversized {
			dest := filepath.Join(dir, f.Filename+summarySuffix)
			var summary string
			if f.SummaryText != nil {
				summary = *f.SummaryText
			}
			if err := os.WriteFile(dest, []byte(summary), 0644); err != nil {
				fatal = append(fatal, fmt.Errorf("failed to write summary for %s: %w", f.Filename, err))
			}
			continue
		}

		dest := filepath.Join(dir, f.Filename)
		if err := s.backend.DownloadToPath(ctx, f.StoragePath, dest); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.log.Warn("project file missing from storage, skipping",
					"project_id", projectID, "filename", f.Filename, "path", f.StoragePath)
				warnings = append(warnings, fmt.Sprintf("missing object for %s (%s)", f.Filename, f.StoragePath))
				continue
			}
			fatal = append(fatal, fmt.Errorf("failed to download %s: %w", f.Filename, err))
		}
	}

	return fatal, warnings
}
