package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var getCommand = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run's status",
	Args:  cobra.ExactArgs(1),
	RunE:  getRun,
}

var listCommand = &cobra.Command{
	Use:   "list",
	Short: "List runs, optionally scoped to one project",
	RunE:  listRuns,
}

var stepsCommand = &cobra.Command{
	Use:   "steps <run-id>",
	Short: "Show a run's ordered step records",
	Args:  cobra.ExactArgs(1),
	RunE:  showSteps,
}

var (
	runsConfigPath string
	runsProject    string
	runsVerbose    bool
)

func init() {
	for _, cmd := range []*cobra.Command{getCommand, listCommand, stepsCommand} {
		cmd.Flags().StringVar(&runsConfigPath, "config", "", "Path to config.json file")
		cmd.Flags().BoolVarP(&runsVerbose, "verbose", "v", false, "Print detailed debug information")
	}
	listCommand.Flags().StringVarP(&runsProject, "project", "p", "", "Filter to one project UUID")

	rootCmd.AddCommand(getCommand)
	rootCmd.AddCommand(listCommand)
	rootCmd.AddCommand(stepsCommand)
}

func getRun(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	a, err := buildApp(ctx, runsConfigPath, runsVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	status, ok := a.registry.Get(runID)
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	a.printer.PrintRunStatus(status)
	return nil
}

func listRuns(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	var projectID *uuid.UUID
	if runsProject != "" {
		id, err := uuid.Parse(runsProject)
		if err != nil {
			return fmt.Errorf("invalid project id: %w", err)
		}
		projectID = &id
	}

	a, err := buildApp(ctx, runsConfigPath, runsVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	a.printer.PrintRunList(a.registry.List(projectID))
	return nil
}

func showSteps(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	a, err := buildApp(ctx, runsConfigPath, runsVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	steps, err := a.database.ListRunSteps(ctx, runID)
	if err != nil {
		return err
	}
	a.printer.PrintSteps(steps)
	return nil
}
