// Package types holds the shared domain types for scope generation runs.
package types

// RunMode selects how much work a run performs.
type RunMode string

// Run execution modes
const (
	// ModeFull rebuilds everything from the synced inputs.
	ModeFull RunMode = "full"
	// ModeFast reuses the project's latest cached context pack when one exists.
	ModeFast RunMode = "fast"
	// ModeOneshot regenerates from a parent run's extracted variables,
	// skipping sync, ingestion and extraction.
	ModeOneshot RunMode = "oneshot"
)

// ResearchMode controls how many external research queries a run may issue.
type ResearchMode string

// Research modes
const (
	ResearchNone  ResearchMode = "none"
	ResearchQuick ResearchMode = "quick"
	ResearchFull  ResearchMode = "full"
)

// Valid reports whether m is a known run mode.
func (m RunMode) Valid() bool {
	switch m {
	case ModeFull, ModeFast, ModeOneshot:
		return true
	}
	return false
}

// Valid reports whether m is a known research mode.
func (m ResearchMode) Valid() bool {
	switch m {
	case ResearchNone, ResearchQuick, ResearchFull:
		return true
	}
	return false
}

// QueryBudget returns the maximum number of external research queries for the mode.
func (m ResearchMode) QueryBudget() int {
	switch m {
	case ResearchQuick:
		return 1
	case ResearchFull:
		return 3
	default:
		return 0
	}
}
