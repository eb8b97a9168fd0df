package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martin/scope-generator/internal/vectorstore"
)

var importHistoryCommand = &cobra.Command{
	Use:   "import-history <records.json>",
	Short: "Embed historical scope records into the similarity index",
	Long: `Reads a JSON array of historical scope records and inserts one embedding
per record into the global corpus. These records ground the reference
statistics used during extraction.`,
	Args: cobra.ExactArgs(1),
	RunE: importHistory,
}

var (
	importConfigPath string
	importVerbose    bool
)

func init() {
	importHistoryCommand.Flags().StringVar(&importConfigPath, "config", "", "Path to config.json file")
	importHistoryCommand.Flags().BoolVarP(&importVerbose, "verbose", "v", false, "Print detailed debug information")

	rootCmd.AddCommand(importHistoryCommand)
}

// historyRecord is one entry in the import file.
type historyRecord struct {
	Title          string   `json:"title"`
	ProjectType    string   `json:"project_type,omitempty"`
	EffortHours    float64  `json:"effort_hours,omitempty"`
	TimelineWeeks  float64  `json:"timeline_weeks,omitempty"`
	MilestoneCount int      `json:"milestone_count,omitempty"`
	CostEstimate   float64  `json:"cost_estimate,omitempty"`
	Services       []string `json:"services,omitempty"`
	Integrations   []string `json:"integrations,omitempty"`
	Summary        string   `json:"summary,omitempty"`
}

// embeddingText builds the token-dense string the record is embedded under.
// It mirrors the query profile shape so historical records and live queries
// land in a comparable embedding space.
func (r *historyRecord) embeddingText() string {
	parts := []string{"project_type: " + r.ProjectType}
	if len(r.Integrations) > 0 {
		parts = append(parts, "integrations: "+strings.Join(r.Integrations, ", "))
	}
	if len(r.Services) > 0 {
		parts = append(parts, "services: "+strings.Join(r.Services, ", "))
	}
	return strings.Join(parts, "; ")
}

func importHistory(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}
	var records []historyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse records file: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("records file is empty")
	}

	a, err := buildApp(ctx, importConfigPath, importVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	store := vectorstore.New(a.database.Pool())

	imported := 0
	for i, rec := range records {
		embedding, err := a.resil.EmbedText(ctx, rec.embeddingText())
		if err != nil {
			return fmt.Errorf("failed to embed record %d (%s): %w", i, rec.Title, err)
		}

		_, err = store.Insert(ctx, nil, vectorstore.KindScope, embedding, vectorstore.Metadata{
			Title:          rec.Title,
			EffortHours:    rec.EffortHours,
			TimelineWeeks:  rec.TimelineWeeks,
			MilestoneCount: rec.MilestoneCount,
			CostEstimate:   rec.CostEstimate,
			Services:       rec.Services,
			Snippet:        rec.Summary,
		})
		if err != nil {
			return fmt.Errorf("failed to insert record %d (%s): %w", i, rec.Title, err)
		}
		imported += 1
	}

	fmt.Printf("imported %d historical records\n", imported)
	return nil
}
