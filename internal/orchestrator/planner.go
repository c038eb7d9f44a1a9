package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skoll/overseer/internal/registry"
)

// Phase durations used for plan estimates. The estimate is a plain sum over
// steps, ignoring parallelism.
const (
	durAnalyze    = 30 * time.Second
	durSpecialist = 20 * time.Second
	durImplement  = 60 * time.Second
	durTesting    = 45 * time.Second
	durReview     = 30 * time.Second
)

// DefaultMaxAgents caps a plan at one primary plus two collaborators unless
// the request asks for more.
const DefaultMaxAgents = 3

// PlanRequest carries the inputs for plan synthesis.
type PlanRequest struct {
	Task      string
	Priority  Priority
	MaxAgents int
}

// Planner turns a task description and a ranked list of agent
// recommendations into an executable plan.
type Planner struct {
	logger *zap.Logger
}

func NewPlanner(logger *zap.Logger) *Planner {
	return &Planner{logger: logger}
}

// BuildPlan synthesizes a plan. The first recommendation becomes the primary
// agent and the rest become collaborators, capped by MaxAgents. A plan with
// zero steps is valid: the task matched no phase keywords and the priority
// never escalated.
func (p *Planner) BuildPlan(req PlanRequest, recs []*registry.Recommendation) *Plan {
	maxAgents := req.MaxAgents
	if maxAgents <= 0 {
		maxAgents = DefaultMaxAgents
	}

	plan := &Plan{
		ID:       uuid.NewString(),
		Task:     req.Task,
		Priority: req.Priority,
	}
	if len(recs) > 0 {
		plan.PrimaryAgent = recs[0].AgentName
		plan.Confidence = recs[0].Confidence
		for _, rec := range recs[1:] {
			if len(plan.Collaborators) >= maxAgents-1 {
				break
			}
			plan.Collaborators = append(plan.Collaborators, rec.AgentName)
		}
	}

	task := strings.ToLower(req.Task)
	addStep := func(action, agent string, deps []string, dur time.Duration, parallel bool) {
		plan.Steps = append(plan.Steps, &Step{
			ID:                fmt.Sprintf("step-%d", len(plan.Steps)+1),
			Action:            action,
			AgentName:         agent,
			DependsOn:         deps,
			EstimatedDuration: dur,
			Parallel:          parallel,
		})
	}

	var analysisActions []string
	if containsAny(task, "analyze", "review") {
		addStep(ActionAnalyzeRequirements, plan.PrimaryAgent, nil, durAnalyze, false)
		analysisActions = append(analysisActions, ActionAnalyzeRequirements)
		for _, collab := range plan.Collaborators {
			addStep(ActionSpecialistAnalysis, collab, []string{ActionAnalyzeRequirements}, durSpecialist, true)
		}
		if len(plan.Collaborators) > 0 {
			analysisActions = append(analysisActions, ActionSpecialistAnalysis)
		}
	}

	hasImplement := false
	if containsAny(task, "implement", "create", "build") {
		var deps []string
		if len(analysisActions) > 0 {
			deps = []string{ActionAnalyzeRequirements}
		}
		addStep(ActionImplementSolution, plan.PrimaryAgent, deps, durImplement, false)
		hasImplement = true
	}

	if strings.Contains(task, "test") || req.Priority == PriorityCritical {
		if tester := firstMatching(plan.Collaborators, "tester", "qa"); tester != "" {
			var deps []string
			switch {
			case hasImplement:
				deps = []string{ActionImplementSolution}
			case len(analysisActions) > 0:
				deps = analysisActions
			}
			addStep(ActionComprehensiveTesting, tester, deps, durTesting, false)
		} else if p.logger != nil {
			p.logger.Debug("no testing collaborator available, skipping test phase",
				zap.String("task", req.Task))
		}
	}

	if req.Priority.Urgent() {
		var deps []string
		if n := len(plan.Steps); n > 0 {
			deps = []string{plan.Steps[n-1].Action}
		}
		for _, collab := range plan.Collaborators {
			if nameMatches(collab, "security", "performance", "techlead") {
				addStep(ActionExpertReview, collab, deps, durReview, true)
			}
		}
	}

	for _, step := range plan.Steps {
		plan.EstimatedDuration += step.EstimatedDuration
	}
	if p.logger != nil {
		p.logger.Info("plan built",
			zap.String("plan_id", plan.ID),
			zap.String("primary", plan.PrimaryAgent),
			zap.Int("steps", len(plan.Steps)),
			zap.Duration("estimated", plan.EstimatedDuration))
	}
	return plan
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// firstMatching returns the first name containing any marker,
// case-insensitively.
func firstMatching(names []string, markers ...string) string {
	for _, name := range names {
		if nameMatches(name, markers...) {
			return name
		}
	}
	return ""
}

func nameMatches(name string, markers ...string) bool {
	lower := strings.ToLower(name)
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
