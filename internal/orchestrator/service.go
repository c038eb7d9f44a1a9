package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/skoll/overseer/internal/registry"
)

// ErrEmptyTask rejects orchestration requests with no task description.
var ErrEmptyTask = errors.New("task description is empty")

// TaskRequest is one orchestration request as submitted by a caller.
type TaskRequest struct {
	Task                  string `json:"task"`
	Priority              string `json:"priority,omitempty"`
	MaxAgents             int    `json:"max_agents,omitempty"`
	RequiresCollaboration bool   `json:"requires_collaboration,omitempty"`
	Context               string `json:"context,omitempty"`
}

// Service ties agent recommendation, plan synthesis and plan execution into
// the single orchestration entry point.
type Service struct {
	registry *registry.Registry
	planner  *Planner
	executor *Executor
	logger   *zap.Logger
}

func NewService(reg *registry.Registry, planner *Planner, executor *Executor, logger *zap.Logger) *Service {
	return &Service{
		registry: reg,
		planner:  planner,
		executor: executor,
		logger:   logger,
	}
}

// Orchestrate recommends agents for the task, builds a plan and executes it.
// The report always comes back once execution starts; recommendation is the
// only failing stage.
func (s *Service) Orchestrate(ctx context.Context, req *TaskRequest) (*Report, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, ErrEmptyTask
	}

	query := req.Task
	if req.Context != "" {
		query += " " + req.Context
	}
	recs := s.registry.Recommend(query)
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %q", registry.ErrNoSuitableAgent, req.Task)
	}

	maxAgents := req.MaxAgents
	if req.RequiresCollaboration && maxAgents < 2 {
		maxAgents = DefaultMaxAgents
	}
	plan := s.planner.BuildPlan(PlanRequest{
		Task:      req.Task,
		Priority:  NormalizePriority(req.Priority),
		MaxAgents: maxAgents,
	}, recs)

	s.logger.Info("orchestrating task",
		zap.String("plan_id", plan.ID),
		zap.String("primary", plan.PrimaryAgent),
		zap.Strings("collaborators", plan.Collaborators),
		zap.String("priority", string(plan.Priority)),
		zap.Int("steps", len(plan.Steps)))

	report := s.executor.Execute(ctx, plan)

	s.logger.Info("orchestration finished",
		zap.String("plan_id", plan.ID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("partial", report.Partial),
		zap.Float64("cost_usd", report.TotalCostUSD),
		zap.Int64("actual_ms", report.ActualMs))
	return report, nil
}
