package optimizer

import (
	"strings"

	"go.uber.org/zap"
)

// Optimizer shrinks prompts through a fixed pipeline: redundancy removal,
// phrase compression, template substitution, then smart truncation.
// Every stage yields text that is strictly shorter or unchanged.
type Optimizer struct {
	logger *zap.Logger
}

// StageSaving records tokens freed by one pipeline stage.
type StageSaving struct {
	Stage       string `json:"stage"`
	TokensSaved int    `json:"tokens_saved"`
}

// Result holds the optimized prompt and per-stage savings.
type Result struct {
	Text            string        `json:"text"`
	OriginalTokens  int           `json:"original_tokens"`
	OptimizedTokens int           `json:"optimized_tokens"`
	Savings         []StageSaving `json:"savings,omitempty"`
}

// TokensSaved returns the total token reduction.
func (r *Result) TokensSaved() int {
	return r.OriginalTokens - r.OptimizedTokens
}

// New creates an optimizer.
func New(logger *zap.Logger) *Optimizer {
	return &Optimizer{logger: logger}
}

// Optimize runs the full pipeline against a prompt.
func (o *Optimizer) Optimize(prompt, taskType string) *Result {
	res := &Result{
		Text:           prompt,
		OriginalTokens: EstimateTokens(prompt),
	}
	if strings.TrimSpace(prompt) == "" {
		res.OptimizedTokens = res.OriginalTokens
		return res
	}

	o.applyStage(res, "redundancy", removeRedundancy)
	o.applyStage(res, "compression", compressPhrases)
	o.applyStage(res, "template", func(s string) string {
		return substituteTemplates(s, taskType)
	})
	o.applyStage(res, "truncation", func(s string) string {
		return truncateSmart(s, taskType)
	})

	res.OptimizedTokens = EstimateTokens(res.Text)
	if res.TokensSaved() > 0 {
		o.logger.Debug("prompt optimized",
			zap.String("task_type", taskType),
			zap.Int("original_tokens", res.OriginalTokens),
			zap.Int("optimized_tokens", res.OptimizedTokens))
	}
	return res
}

// applyStage runs one stage and records its savings. A stage whose output
// would be empty or longer than its input is skipped.
func (o *Optimizer) applyStage(res *Result, name string, fn func(string) string) {
	before := res.Text
	after := fn(before)
	if strings.TrimSpace(after) == "" || len(after) >= len(before) {
		return
	}
	saved := EstimateTokens(before) - EstimateTokens(after)
	res.Text = after
	if saved > 0 {
		res.Savings = append(res.Savings, StageSaving{Stage: name, TokensSaved: saved})
	}
}

// removeRedundancy collapses whitespace, strips filler phrases and drops
// exact duplicate sentences (first occurrence kept).
func removeRedundancy(s string) string {
	out := collapseWhitespace(s)
	for _, rule := range fillerRules {
		out = rule.apply(out)
	}
	out = collapseWhitespace(out)

	sentences := splitSentences(out)
	if len(sentences) > 1 {
		seen := make(map[string]bool, len(sentences))
		kept := sentences[:0]
		for _, sent := range sentences {
			key := strings.ToLower(collapseWhitespace(sent))
			if seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, sent)
		}
		out = strings.Join(kept, " ")
	}
	return strings.TrimSpace(out)
}

// compressPhrases applies the generic phrase table.
func compressPhrases(s string) string {
	out := s
	for _, rule := range compressionRules {
		out = rule.apply(out)
	}
	return strings.TrimSpace(collapseWhitespace(out))
}

// substituteTemplates applies the literal phrase templates for a task type.
// Replacement is textual, not semantic.
func substituteTemplates(s, taskType string) string {
	rules, ok := templateRules[taskType]
	if !ok {
		return s
	}
	out := s
	for _, rule := range rules {
		out = rule.apply(out)
	}
	return strings.TrimSpace(collapseWhitespace(out))
}

// truncateSmart enforces the per-task-type token ceiling, keeping the first
// and last sentences plus sentences holding task keywords, in original order.
func truncateSmart(s, taskType string) string {
	ceiling, ok := tokenCeilings[taskType]
	if !ok {
		ceiling = tokenCeilings["general"]
	}
	if EstimateTokens(s) <= ceiling {
		return s
	}

	sentences := splitSentences(s)
	if len(sentences) <= 1 {
		// Single run of text: hard cut at the ceiling.
		max := ceiling * 4
		if max < len(s) {
			return strings.TrimSpace(s[:max])
		}
		return s
	}

	keywords := truncationKeywords[taskType]
	last := len(sentences) - 1
	total := 0
	var kept []string
	for i, sent := range sentences {
		important := i == 0 || i == last || containsAny(sent, keywords)
		if !important {
			continue
		}
		tok := EstimateTokens(sent)
		if total+tok > ceiling {
			break
		}
		kept = append(kept, sent)
		total += tok
	}
	if len(kept) == 0 {
		max := ceiling * 4
		first := sentences[0]
		if max < len(first) {
			first = first[:max]
		}
		kept = []string{strings.TrimSpace(first)}
	}
	return strings.Join(kept, " ")
}

// EstimateTokens estimates tokens for a string.
// Rough heuristic: ~4 chars per token for mixed CJK/English.
func EstimateTokens(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitSentences breaks text on sentence-ending punctuation.
func splitSentences(s string) []string {
	var out []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Treat as a boundary only at end of text or before a space.
		if i+1 < len(runes) && runes[i+1] != ' ' {
			continue
		}
		sent := strings.TrimSpace(string(runes[start : i+1]))
		if sent != "" {
			out = append(out, sent)
		}
		start = i + 1
	}
	if start < len(runes) {
		sent := strings.TrimSpace(string(runes[start:]))
		if sent != "" {
			out = append(out, sent)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	ls := strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(ls, w) {
			return true
		}
	}
	return false
}
