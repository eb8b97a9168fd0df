package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/pipeline"
	"github.com/martin/scope-generator/internal/registry"
	"github.com/martin/scope-generator/internal/types"
)

var submitCommand = &cobra.Command{
	Use:   "submit",
	Short: "Submit a generation run and wait for it to finish",
	Long: `Submits a run for a project and streams step progress until it reaches a
terminal status. Modes: full (rebuild everything), fast (reuse the project's
cached context pack), oneshot (quick regeneration from a parent run).`,
	RunE: submitRun,
}

var (
	submitConfigPath   string
	submitProject      string
	submitMode         string
	submitResearchMode string
	submitInstructions string
	submitProjectType  string
	submitIntegrations []string
	submitFileNotes    []string
	submitIncludeFiles []string
	submitParentRun    string
	submitDelta        string
	submitVerbose      bool
)

func init() {
	submitCommand.Flags().StringVar(&submitConfigPath, "config", "", "Path to config.json file")
	submitCommand.Flags().StringVarP(&submitProject, "project", "p", "", "Project UUID (required)")
	submitCommand.Flags().StringVarP(&submitMode, "mode", "m", string(types.ModeFull), "Run mode: full, fast or oneshot")
	submitCommand.Flags().StringVar(&submitResearchMode, "research-mode", string(types.ResearchNone), "Research mode: none, quick or full")
	submitCommand.Flags().StringVarP(&submitInstructions, "instructions", "i", "", "Free-text instructions for the extraction")
	submitCommand.Flags().StringVar(&submitProjectType, "project-type", "", "Short project type tag (e.g. \"crm migration\")")
	submitCommand.Flags().StringSliceVar(&submitIntegrations, "integration", nil, "Third-party system involved (repeatable)")
	submitCommand.Flags().StringSliceVar(&submitFileNotes, "file-note", nil, "Per-file context as filename=note (repeatable)")
	submitCommand.Flags().StringSliceVar(&submitIncludeFiles, "include-file", nil, "Project file UUID to include (repeatable; default all)")
	submitCommand.Flags().StringVar(&submitParentRun, "parent-run", "", "Parent run UUID for regeneration")
	submitCommand.Flags().StringVar(&submitDelta, "variables-delta", "", "Change request applied to the parent run's variables")
	submitCommand.Flags().BoolVarP(&submitVerbose, "verbose", "v", false, "Print detailed debug information")

	_ = submitCommand.MarkFlagRequired("project")

	rootCmd.AddCommand(submitCommand)
}

func submitRun(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	projectID, err := uuid.Parse(submitProject)
	if err != nil {
		return fmt.Errorf("invalid project id: %w", err)
	}

	var parentRunID *uuid.UUID
	if submitParentRun != "" {
		id, err := uuid.Parse(submitParentRun)
		if err != nil {
			return fmt.Errorf("invalid parent run id: %w", err)
		}
		parentRunID = &id
	}

	fileNotes := make(map[string]string, len(submitFileNotes))
	for _, raw := range submitFileNotes {
		filename, note, ok := strings.Cut(raw, "=")
		if !ok || filename == "" {
			return fmt.Errorf("invalid file note %q: expected filename=note", raw)
		}
		fileNotes[filename] = note
	}

	includedFileIDs := make([]uuid.UUID, 0, len(submitIncludeFiles))
	for _, raw := range submitIncludeFiles {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid file id %q: %w", raw, err)
		}
		includedFileIDs = append(includedFileIDs, id)
	}

	a, err := buildApp(ctx, submitConfigPath, submitVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	progress := a.printer.StepProgress()
	handle, err := a.registry.Submit(ctx, projectID, registry.SubmitOptions{
		Mode:             types.RunMode(submitMode),
		ResearchMode:     types.ResearchMode(submitResearchMode),
		Instructions:     submitInstructions,
		ProjectType:      submitProjectType,
		IntegrationNotes: submitIntegrations,
		FileNotes:        fileNotes,
		IncludedFileIDs:  includedFileIDs,
		ParentRunID:      parentRunID,
		VariablesDelta:   submitDelta,
		OnStep: func(e pipeline.StepEvent) {
			progress(e.Name, e.Status, e.Detail)
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("submitted run %s\n", handle.RunID)

	status, err := handle.Wait(ctx)
	if err != nil {
		return err
	}

	a.printer.PrintRunStatus(status)
	if status.Status == db.RunStatusFailed {
		return fmt.Errorf("run failed: %s", status.Error)
	}
	return nil
}
