package provider

import (
	"strings"
	"time"
)

// outputOverhead is the assumed output-to-input token ratio used when
// projecting the cost of a request before dispatch.
const outputOverhead = 0.3

// Profile describes a provider's cost, speed and suitability characteristics.
// Costs are expressed in USD per million tokens.
type Profile struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Model             string        `json:"model"`
	InputCostPerMTok  float64       `json:"input_cost_per_mtok"`
	OutputCostPerMTok float64       `json:"output_cost_per_mtok"`
	AvgResponseTimeMs int64         `json:"avg_response_time_ms"`
	Reliability       float64       `json:"reliability"`
	OptimalFor        []string      `json:"optimal_for,omitempty"`
	Strengths         []string      `json:"strengths,omitempty"`
	MaxBatchSize      int           `json:"max_batch_size,omitempty"`
	BatchDelay        time.Duration `json:"batch_delay,omitempty"`
}

// Cost returns the exact USD cost of a completed exchange.
func (p *Profile) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputCostPerMTok/1e6 +
		float64(outputTokens)*p.OutputCostPerMTok/1e6
}

// EstimateCost projects the USD cost of a prompt before dispatch,
// assuming 30% output-token overhead on top of the prompt tokens.
func (p *Profile) EstimateCost(promptTokens int) float64 {
	outTokens := int(float64(promptTokens)*outputOverhead + 0.5)
	return p.Cost(promptTokens, outTokens)
}

// ZeroCost reports whether the provider bills nothing for usage.
func (p *Profile) ZeroCost() bool {
	return p.InputCostPerMTok == 0 && p.OutputCostPerMTok == 0
}

// OptimalForTask reports whether taskType is in the optimal-task list.
func (p *Profile) OptimalForTask(taskType string) bool {
	for _, t := range p.OptimalFor {
		if strings.EqualFold(t, taskType) {
			return true
		}
	}
	return false
}

// StrengthMatches reports whether any strength tag substring-matches
// the task type in either direction.
func (p *Profile) StrengthMatches(taskType string) bool {
	tt := strings.ToLower(taskType)
	for _, s := range p.Strengths {
		tag := strings.ToLower(s)
		if strings.Contains(tt, tag) || strings.Contains(tag, tt) {
			return true
		}
	}
	return false
}

// DefaultProfiles returns the built-in provider profiles.
func DefaultProfiles() []*Profile {
	return []*Profile{
		{
			ID:                "anthropic",
			Name:              "Claude",
			Model:             "claude-sonnet-4-20250514",
			InputCostPerMTok:  15.0,
			OutputCostPerMTok: 75.0,
			AvgResponseTimeMs: 2500,
			Reliability:       0.95,
			OptimalFor:        []string{"code_analysis", "code_review", "complex_reasoning", "refactoring"},
			Strengths:         []string{"deep_reasoning", "long_context"},
			MaxBatchSize:      5,
			BatchDelay:        time.Second,
		},
		{
			ID:                "openai",
			Name:              "OpenAI",
			Model:             "gpt-4o",
			InputCostPerMTok:  30.0,
			OutputCostPerMTok: 60.0,
			AvgResponseTimeMs: 3000,
			Reliability:       0.92,
			OptimalFor:        []string{"code_generation", "function_calling", "general_chat"},
			Strengths:         []string{"tool_use", "structured_output"},
			MaxBatchSize:      8,
			BatchDelay:        500 * time.Millisecond,
		},
		{
			ID:                "gemini",
			Name:              "Gemini",
			Model:             "gemini-2.0-flash",
			InputCostPerMTok:  3.5,
			OutputCostPerMTok: 10.5,
			AvgResponseTimeMs: 2000,
			Reliability:       0.88,
			OptimalFor:        []string{"summarization", "translation", "bulk_processing"},
			Strengths:         []string{"speed", "long_context"},
			MaxBatchSize:      10,
			BatchDelay:        300 * time.Millisecond,
		},
		{
			ID:                "local",
			Name:              "Local",
			Model:             "llama3.1",
			InputCostPerMTok:  0,
			OutputCostPerMTok: 0,
			AvgResponseTimeMs: 6000,
			Reliability:       0.70,
			OptimalFor:        []string{"draft", "offline"},
			Strengths:         []string{"zero_cost", "privacy"},
			MaxBatchSize:      2,
			BatchDelay:        100 * time.Millisecond,
		},
	}
}
