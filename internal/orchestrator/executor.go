package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skoll/overseer/internal/events"
	"github.com/skoll/overseer/internal/routing"
)

// DefaultMaxParallel bounds how many steps run at once.
const DefaultMaxParallel = 4

// Dispatcher routes one step's model request. *routing.Router satisfies it.
type Dispatcher interface {
	Route(ctx context.Context, req *routing.Request) (*routing.Result, error)
}

// Executor runs a plan's steps concurrently. Every step gets a done channel
// closed on completion, success or not; dependents block on those channels
// instead of polling. A failed dependency never stops a dependent from
// running, it only marks the dependent's result partial.
type Executor struct {
	dispatcher  Dispatcher
	bus         *events.Bus
	maxParallel int
	logger      *zap.Logger
}

func NewExecutor(dispatcher Dispatcher, bus *events.Bus, maxParallel int, logger *zap.Logger) *Executor {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Executor{
		dispatcher:  dispatcher,
		bus:         bus,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

// stepState pairs a step with its completion future. result is written
// before done closes and only read after done closes.
type stepState struct {
	step   *Step
	done   chan struct{}
	result *StepResult
}

// Execute runs every step of the plan and aggregates a report. It returns a
// report even when every step degrades; plan execution has no fatal path
// short of the caller cancelling the context, and even then the report
// carries whatever completed.
func (e *Executor) Execute(ctx context.Context, plan *Plan) *Report {
	started := time.Now()
	e.publishStarted(plan)

	states := make([]*stepState, 0, len(plan.Steps))
	byAction := make(map[string][]*stepState)
	for _, step := range plan.Steps {
		st := &stepState{step: step, done: make(chan struct{})}
		states = append(states, st)
		byAction[step.Action] = append(byAction[step.Action], st)
	}

	pool := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup
	for _, st := range states {
		wg.Add(1)
		go func(st *stepState) {
			defer wg.Done()
			e.runStep(ctx, plan, st, byAction, pool)
		}(st)
	}
	wg.Wait()

	return compileReport(plan, states, started, time.Now())
}

func (e *Executor) runStep(ctx context.Context, plan *Plan, st *stepState, byAction map[string][]*stepState, pool chan struct{}) {
	start := time.Now()
	res := &StepResult{
		StepID: st.step.ID,
		Action: st.step.Action,
		Agent:  st.step.AgentName,
	}
	st.result = res
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
		// Publish before releasing dependents so completion events keep
		// dependency order on the bus.
		e.publishCompleted(plan, res)
		close(st.done)
	}()

	depResults, degraded, err := e.awaitDeps(ctx, st, byAction)
	if err != nil {
		res.Error = err.Error()
		res.Partial = true
		return
	}

	select {
	case pool <- struct{}{}:
	case <-ctx.Done():
		res.Error = ctx.Err().Error()
		res.Partial = true
		return
	}
	defer func() { <-pool }()

	// The pool select can win a race against a cancelled context.
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		res.Partial = true
		return
	}

	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("step panicked: %v", r)
			res.Partial = true
			if e.logger != nil {
				e.logger.Error("step panicked",
					zap.String("plan_id", plan.ID),
					zap.String("step_id", st.step.ID),
					zap.Any("panic", r))
			}
		}
	}()

	out, err := e.dispatcher.Route(ctx, &routing.Request{
		AgentID:  st.step.AgentName,
		TaskType: taskTypeFor(st.step.Action),
		Prompt:   stepPrompt(plan, st.step, depResults),
		Priority: string(plan.Priority),
	})
	if err != nil {
		res.Error = err.Error()
		res.Partial = true
		if e.logger != nil {
			e.logger.Warn("step failed",
				zap.String("plan_id", plan.ID),
				zap.String("step_id", st.step.ID),
				zap.String("agent", st.step.AgentName),
				zap.Error(err))
		}
		return
	}

	res.Content = out.Content
	res.Provider = out.Provider
	res.Model = out.Model
	res.CostUSD = out.CostUSD
	if out.CostLimited {
		res.Error = "request exceeded the per-request cost limit"
		res.Partial = true
		return
	}
	if degraded {
		res.Partial = true
	}
}

// awaitDeps blocks until every step bearing a dependency action finishes.
// degraded reports whether any dependency errored or was itself partial.
func (e *Executor) awaitDeps(ctx context.Context, st *stepState, byAction map[string][]*stepState) ([]*StepResult, bool, error) {
	var depResults []*StepResult
	degraded := false
	for _, action := range st.step.DependsOn {
		for _, dep := range byAction[action] {
			if dep == st {
				continue
			}
			select {
			case <-dep.done:
				if dep.result.Error != "" || dep.result.Partial {
					degraded = true
				}
				depResults = append(depResults, dep.result)
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
	}
	return depResults, degraded, nil
}

func (e *Executor) publishStarted(plan *Plan) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type: events.OrchestrationStarted,
		Data: events.OrchestrationStartedData{
			PlanID:   plan.ID,
			Task:     plan.Task,
			Primary:  plan.PrimaryAgent,
			Agents:   plan.Collaborators,
			Steps:    len(plan.Steps),
			Priority: string(plan.Priority),
		},
	})
}

func (e *Executor) publishCompleted(plan *Plan, res *StepResult) {
	if e.bus == nil {
		return
	}
	status := "succeeded"
	if res.Error != "" || res.Partial {
		status = "partial"
	}
	e.bus.Publish(events.Event{
		Type: events.StepCompleted,
		Data: events.StepCompletedData{
			PlanID:     plan.ID,
			StepID:     res.StepID,
			Action:     res.Action,
			Agent:      res.Agent,
			Status:     status,
			Partial:    res.Partial,
			Error:      res.Error,
			DurationMs: res.DurationMs,
		},
	})
}

// taskTypeFor maps a step action onto the routing task type the provider
// catalog scores against.
func taskTypeFor(action string) string {
	switch action {
	case ActionAnalyzeRequirements, ActionSpecialistAnalysis:
		return "code_analysis"
	case ActionImplementSolution:
		return "code_generation"
	case ActionComprehensiveTesting:
		return "testing"
	case ActionExpertReview:
		return "code_review"
	default:
		return "general"
	}
}

// stepPrompt composes a step instruction from the action template, the task,
// and any completed dependency outputs.
func stepPrompt(plan *Plan, step *Step, deps []*StepResult) string {
	var b strings.Builder
	b.WriteString(actionInstruction(step.Action))
	b.WriteString("\n\nTask: ")
	b.WriteString(plan.Task)
	for _, dep := range deps {
		if dep.Content == "" || dep.Error != "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nOutput of %s (%s):\n%s", dep.Action, dep.Agent, dep.Content)
	}
	return b.String()
}

func actionInstruction(action string) string {
	switch action {
	case ActionAnalyzeRequirements:
		return "Analyze the requirements and constraints of this task."
	case ActionSpecialistAnalysis:
		return "Assess this task from your specialist domain and flag concerns."
	case ActionImplementSolution:
		return "Implement a solution that satisfies the requirements."
	case ActionComprehensiveTesting:
		return "Design and run a comprehensive test pass for the work so far."
	case ActionExpertReview:
		return "Review the work so far and flag risks, gaps, and regressions."
	default:
		return "Complete the following step of the task."
	}
}
