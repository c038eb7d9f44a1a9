package orchestrator

import (
	"time"
)

// Priority orders work and gates plan phases.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// NormalizePriority maps free-form priority strings onto the four levels.
func NormalizePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityHigh, PriorityCritical:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// Urgent reports whether the priority escalates plan synthesis.
func (p Priority) Urgent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// Step action identifiers. Step dependencies reference actions, not step
// IDs, so a dependent waits on every step bearing that action.
const (
	ActionAnalyzeRequirements  = "analyze_requirements"
	ActionSpecialistAnalysis   = "specialist_analysis"
	ActionImplementSolution    = "implement_solution"
	ActionComprehensiveTesting = "comprehensive_testing"
	ActionExpertReview         = "expert_review"
)

// Step is one unit of plan work. Read-only once the plan is built.
type Step struct {
	ID                string        `json:"id"`
	Action            string        `json:"action"`
	AgentName         string        `json:"agent_name"`
	DependsOn         []string      `json:"depends_on,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Parallel          bool          `json:"parallel,omitempty"`
}

// Plan is a DAG of steps for one orchestration request. Owned by the
// executor for its lifetime and discarded afterwards.
type Plan struct {
	ID                string        `json:"id"`
	Task              string        `json:"task"`
	Priority          Priority      `json:"priority"`
	PrimaryAgent      string        `json:"primary_agent"`
	Collaborators     []string      `json:"collaborators,omitempty"`
	Steps             []*Step       `json:"steps"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Confidence        float64       `json:"confidence"`
}

// StepResult is one executed step's outcome. A step that errored or ran on
// degraded inputs is partial, never fatal to the plan.
type StepResult struct {
	StepID     string  `json:"step_id"`
	Action     string  `json:"action"`
	Agent      string  `json:"agent"`
	Provider   string  `json:"provider,omitempty"`
	Model      string  `json:"model,omitempty"`
	Content    string  `json:"content,omitempty"`
	Error      string  `json:"error,omitempty"`
	Partial    bool    `json:"partial,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMs int64   `json:"duration_ms"`
}

// Report is the aggregated outcome of a plan execution. It always exists,
// even when every step degraded.
type Report struct {
	PlanID          string        `json:"plan_id"`
	Task            string        `json:"task"`
	PrimaryAgent    string        `json:"primary_agent"`
	Priority        Priority      `json:"priority"`
	Steps           []*StepResult `json:"steps"`
	Succeeded       int           `json:"succeeded"`
	Partial         int           `json:"partial"`
	TotalCostUSD    float64       `json:"total_cost_usd"`
	EstimatedMs     int64         `json:"estimated_ms"`
	ActualMs        int64         `json:"actual_ms"`
	Recommendations []string      `json:"recommendations,omitempty"`
	NextSteps       []string      `json:"next_steps,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
}
