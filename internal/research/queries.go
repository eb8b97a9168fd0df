package research

import (
	"fmt"
	"sort"
	"strings"

	"github.com/martin/scope-generator/internal/types"
)

// BuildQueries derives deterministic search queries from the context pack,
// most specific first so low budgets still get the best query.
func BuildQueries(pack *types.ContextPack) []string {
	if pack == nil {
		return nil
	}

	projectType := strings.TrimSpace(pack.ProjectType)
	notes := make([]string, 0, len(pack.IntegrationNotes))
	for _, n := range pack.IntegrationNotes {
		if trimmed := strings.TrimSpace(n); trimmed != "" {
			notes = append(notes, trimmed)
		}
	}
	sort.Strings(notes)

	var queries []string
	if projectType != "" && len(notes) > 0 {
		queries = append(queries, fmt.Sprintf("%s integration %s implementation effort", projectType, notes[0]))
	}
	for _, n := range notes {
		queries = append(queries, fmt.Sprintf("%s integration typical project scope", n))
	}
	if projectType != "" {
		queries = append(queries, fmt.Sprintf("%s project typical timeline milestones", projectType))
	}

	return dedupe(queries)
}

func dedupe(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}
