package types

// Milestone is a single delivery milestone inside a scope document.
type Milestone struct {
	Name          string  `json:"name"`
	DurationWeeks float64 `json:"duration_weeks"`
	Description   string  `json:"description,omitempty"`
}

// ScopeVariables is the structured data extracted from a project's input
// materials. Rendering turns one of these into the final scope document, so
// every field the template references must survive a marshal round-trip.
type ScopeVariables struct {
	Title            string      `json:"title"`
	Summary          string      `json:"summary"`
	ProjectType      string      `json:"project_type,omitempty"`
	Objectives       []string    `json:"objectives"`
	Deliverables     []string    `json:"deliverables"`
	Services         []string    `json:"services,omitempty"`
	Milestones       []Milestone `json:"milestones,omitempty"`
	EffortHours      float64     `json:"effort_hours,omitempty"`
	TimelineWeeks    float64     `json:"timeline_weeks,omitempty"`
	CostEstimate     float64     `json:"cost_estimate,omitempty"`
	Assumptions      []string    `json:"assumptions,omitempty"`
	Risks            []string    `json:"risks,omitempty"`
	IntegrationNotes []string    `json:"integration_notes,omitempty"`
}
