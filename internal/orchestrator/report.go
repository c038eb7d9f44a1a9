package orchestrator

import (
	"encoding/json"
	"time"
)

// compileReport folds executed step states into a report. Every step lands
// in exactly one bucket: succeeded, or partial when it errored or ran on
// degraded inputs.
func compileReport(plan *Plan, states []*stepState, started, completed time.Time) *Report {
	report := &Report{
		PlanID:       plan.ID,
		Task:         plan.Task,
		PrimaryAgent: plan.PrimaryAgent,
		Priority:     plan.Priority,
		Steps:        make([]*StepResult, 0, len(states)),
		EstimatedMs:  plan.EstimatedDuration.Milliseconds(),
		ActualMs:     completed.Sub(started).Milliseconds(),
		StartedAt:    started,
		CompletedAt:  completed,
	}

	errored := false
	for _, st := range states {
		res := st.result
		report.Steps = append(report.Steps, res)
		report.TotalCostUSD += res.CostUSD
		if res.Error != "" {
			errored = true
		}
		if res.Error != "" || res.Partial {
			report.Partial++
		} else {
			report.Succeeded++
		}
	}

	if errored {
		report.Recommendations = append(report.Recommendations,
			"Review step error details before relying on the output.")
	}
	if total := len(states); total > 0 && float64(report.Partial)/float64(total) > 0.3 {
		report.Recommendations = append(report.Recommendations,
			"Reduce the task scope or add validation steps; too many steps degraded.")
	}
	switch {
	case len(states) > 0 && report.Partial == 0:
		report.NextSteps = append(report.NextSteps, "Proceed to integration.")
	case report.Partial > 0:
		report.NextSteps = append(report.NextSteps,
			"Re-run the degraded steps once their failed inputs are fixed.")
	}
	return report
}

// JSON renders the report for transport or console display.
func (r *Report) JSON() (string, error) {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
