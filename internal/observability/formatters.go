// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/registry"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
)

// Printer handles formatted output
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRunStatus outputs a human-readable summary of one run.
func (p *Printer) PrintRunStatus(status *registry.JobStatus) {
	if status == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Project:  %s\n", status.ProjectID))
	sb.WriteString(fmt.Sprintf("Mode:     %s (research: %s)\n", status.Mode, status.ResearchMode))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", status.Status))
	if status.ParentRunID != nil {
		sb.WriteString(fmt.Sprintf("Parent:   %s\n", status.ParentRunID))
	}
	if status.StartedAt != nil {
		sb.WriteString(fmt.Sprintf("Started:  %s\n", status.StartedAt.Format(time.RFC3339)))
	}
	if status.FinishedAt != nil {
		sb.WriteString(fmt.Sprintf("Finished: %s\n", status.FinishedAt.Format(time.RFC3339)))
	}
	if status.ResultPath != "" {
		sb.WriteString(fmt.Sprintf("Result:   %s\n", status.ResultPath))
	}
	if status.Error != "" {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", status.Error))
	}

	p.printBox(fmt.Sprintf("Run %s", status.ID), strings.TrimRight(sb.String(), "\n"))
}

// PrintRunList outputs a one-line summary per run.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRunList(statuses []registry.JobStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(p.out, "no runs")
		return
	}
	for _, s := range statuses {
		line := fmt.Sprintf("%s  %-7s  %-7s  %s", s.ID, s.Status, s.Mode, s.CreatedAt.Format(time.RFC3339))
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Fprintln(p.out, line)
	}
}

// PrintSteps outputs the ordered step records of a run.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintSteps(steps []db.RunStep) {
	if len(steps) == 0 {
		fmt.Fprintln(p.out, "no steps recorded")
		return
	}
	for _, s := range steps {
		line := fmt.Sprintf("%-18s %-8s %s", s.Name, s.Status, s.StartedAt.Format(time.RFC3339))
		if s.FinishedAt != nil {
			line += fmt.Sprintf("  (%s)", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
		}
		if s.Detail != nil && *s.Detail != "" {
			line += "  " + *s.Detail
		}
		fmt.Fprintln(p.out, line)
	}
}

// StepProgress returns a callback that prints step transitions as they
// happen, for use while waiting on a submitted run.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) StepProgress() func(name, status, detail string) {
	return func(name, status, detail string) {
		switch status {
		case db.StepStatusRunning:
			fmt.Fprintf(p.out, "→ %s\n", name)
		case db.StepStatusSuccess:
			fmt.Fprintf(p.out, "✓ %s\n", name)
		case db.StepStatusFailed:
			fmt.Fprintf(p.out, "✗ %s: %s\n", name, detail)
		}
	}
}
