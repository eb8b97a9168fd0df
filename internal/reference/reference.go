// Package reference retrieves similar historical scope records via vector
// similarity and aggregates them into a statistical reference block that
// grounds estimation fields during extraction.
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/types"
	"github.com/martin/scope-generator/internal/vectorstore"
)

// Embedder turns text into a fixed-dimensionality vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// SearchStore runs nearest-neighbour queries over the historical corpus.
// *vectorstore.Store satisfies this.
type SearchStore interface {
	Search(ctx context.Context, embedding []float32, projectID *uuid.UUID, kind string, topK int) ([]vectorstore.Record, error)
}

// Defaults for retrieval.
const (
	DefaultTopK          = 8
	DefaultMinSimilarity = 0.55
	maxSnippets          = 3
)

// Retriever fetches and aggregates similar historical cases.
type Retriever struct {
	store         SearchStore
	embedder      Embedder
	topK          int
	minSimilarity float64
	log           *logger.Logger
}

// NewRetriever builds a Retriever with default thresholds.
func NewRetriever(store SearchStore, embedder Embedder, log *logger.Logger) *Retriever {
	if log == nil {
		log = logger.NewNop()
	}
	return &Retriever{
		store:         store,
		embedder:      embedder,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
		log:           log,
	}
}

// WithThresholds overrides topK and the similarity floor.
func (r *Retriever) WithThresholds(topK int, minSimilarity float64) *Retriever {
	r.topK = topK
	r.minSimilarity = minSimilarity
	return r
}

// BuildQueryProfile deterministically builds a short, token-dense query string
// from a context pack. Structured rather than free text so embeddings stay
// stable and comparable across runs of the same project.
func BuildQueryProfile(pack *types.ContextPack) string {
	projectType := pack.ProjectType
	if projectType == "" {
		projectType = "general implementation"
	}

	notes := append([]string(nil), pack.IntegrationNotes...)
	sort.Strings(notes)

	var sb strings.Builder
	sb.WriteString("project_type: ")
	sb.WriteString(projectType)
	if len(notes) > 0 {
		sb.WriteString("; integrations: ")
		sb.WriteString(strings.Join(notes, ", "))
	}
	return sb.String()
}

// FetchReferenceBlock embeds the query profile, searches the corpus and
// aggregates the hits. Returns "" when the corpus has no records at all.
// A similarity floor that would discard every candidate falls back to the
// unfiltered top-K instead of returning nothing.
func (r *Retriever) FetchReferenceBlock(ctx context.Context, pack *types.ContextPack, projectID *uuid.UUID) (string, error) {
	query := BuildQueryProfile(pack)
	embedding, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query profile: %w", err)
	}

	records, err := r.store.Search(ctx, embedding, projectID, vectorstore.KindScope, r.topK)
	if err != nil {
		return "", fmt.Errorf("similarity search failed: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	filtered := make([]vectorstore.Record, 0, len(records))
	for _, rec := range records {
		if rec.Similarity >= r.minSimilarity {
			filtered = append(filtered, rec)
		}
	}
	if len(filtered) == 0 {
		r.log.Debug("similarity floor excluded all candidates, using unfiltered top-K",
			"floor", r.minSimilarity, "candidates", len(records))
		filtered = records
	}

	return FormatReferenceBlock(filtered), nil
}

// FormatReferenceBlock aggregates records into a human/model-readable block:
// match count, median and IQR for the numeric estimation fields, a
// frequency-ranked service list and a few representative snippets.
func FormatReferenceBlock(records []vectorstore.Record) string {
	var hours, weeks, milestones, costs []float64
	var services []string
	for _, rec := range records {
		md := rec.Metadata
		if md.EffortHours > 0 {
			hours = append(hours, md.EffortHours)
		}
		if md.TimelineWeeks > 0 {
			weeks = append(weeks, md.TimelineWeeks)
		}
		if md.MilestoneCount > 0 {
			milestones = append(milestones, float64(md.MilestoneCount))
		}
		if md.CostEstimate > 0 {
			costs = append(costs, md.CostEstimate)
		}
		services = append(services, md.Services...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Historical reference (%d similar cases)\n\n", len(records))
	writeStatLine(&sb, "Effort hours", hours)
	writeStatLine(&sb, "Timeline weeks", weeks)
	writeStatLine(&sb, "Milestones", milestones)
	writeStatLine(&sb, "Cost", costs)

	if ranked := RankByFrequency(services); len(ranked) > 0 {
		if len(ranked) > 8 {
			ranked = ranked[:8]
		}
		fmt.Fprintf(&sb, "- Common services: %s\n", strings.Join(ranked, ", "))
	}

	snippets := 0
	for _, rec := range records {
		if rec.Metadata.Snippet == "" || snippets >= maxSnippets {
			continue
		}
		if snippets == 0 {
			sb.WriteString("\nRepresentative cases:\n")
		}
		title := rec.Metadata.Title
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", title, rec.Metadata.Snippet)
		snippets++
	}

	return sb.String()
}

func writeStatLine(sb *strings.Builder, label string, vs []float64) {
	if len(vs) == 0 {
		return
	}
	q1, q3 := Quartiles(vs)
	fmt.Fprintf(sb, "- %s: median %s (IQR %s-%s, n=%d)\n",
		label, formatNum(Median(vs)), formatNum(q1), formatNum(q3), len(vs))
}

func formatNum(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
