package registry

import (
	"fmt"
	"sort"
	"strings"
)

const (
	capabilityWeight  = 0.3
	overlapWeight     = 0.4
	toolWeight        = 0.2
	permissionBonus   = 0.1
	permissionPenalty = 0.2

	// confidenceFloor discards agents whose score never clears noise level.
	confidenceFloor = 0.2
	// confidenceCeiling caps reported confidence; a keyword heuristic is
	// never a sure thing.
	confidenceCeiling = 0.95

	maxRecommendations = 5
	maxAlternatives    = 3
)

// Recommendation ranks one agent against a task description. Recomputed
// per query, never persisted.
type Recommendation struct {
	AgentName    string   `json:"agent_name"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// toolCategories map task-text trigger words to the tools that serve them.
var toolCategories = []struct {
	name     string
	triggers []string
	tools    []string
}{
	{"debug", []string{"debug", "fix", "bug", "error", "crash"},
		[]string{"debugger", "terminal", "log_analyzer"}},
	{"test", []string{"test", "verify", "validate", "coverage"},
		[]string{"test_runner", "coverage", "terminal"}},
	{"code", []string{"code", "implement", "refactor", "build", "write"},
		[]string{"editor", "file_system", "linter"}},
	{"security", []string{"security", "vulnerability", "audit"},
		[]string{"security_scanner", "dependency_auditor"}},
	{"deploy", []string{"deploy", "release", "rollout", "ship"},
		[]string{"terminal", "ci_pipeline", "container_runtime"}},
	{"collaborate", []string{"collaborate", "coordinate", "discuss"},
		[]string{"message_bus", "code_review"}},
}

// permissionNeeds map task-text trigger words to the permission implied.
var permissionNeeds = []struct {
	permission string
	triggers   []string
}{
	{PermissionFileSystem, []string{"file", "read", "write", "save", "directory"}},
	{PermissionTerminal, []string{"run", "execute", "command", "install", "terminal"}},
	{PermissionNetwork, []string{"http", "api", "fetch", "download", "network"}},
}

// Recommend scores every registered agent against a task description and
// returns the top matches, highest confidence first. Identical inputs and
// registry state always produce an identical ordering.
func (r *Registry) Recommend(taskDescription string) []*Recommendation {
	task := strings.ToLower(taskDescription)
	taskWords := extractWords(taskDescription)

	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]*Recommendation, 0, len(r.agents))
	for _, def := range r.agents {
		score, reasons := scoreAgent(def, task, taskWords)
		if score <= confidenceFloor {
			continue
		}
		if score > confidenceCeiling {
			score = confidenceCeiling
		}
		recs = append(recs, &Recommendation{
			AgentName:    def.Name,
			Confidence:   score,
			Reasons:      reasons,
			Alternatives: r.alternativesLocked(def),
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		return recs[i].AgentName < recs[j].AgentName
	})
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// RecommendForTask returns the best match for a task, or
// ErrNoSuitableAgent when nothing clears the confidence floor.
func (r *Registry) RecommendForTask(taskDescription string) (*Recommendation, error) {
	recs := r.Recommend(taskDescription)
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSuitableAgent, taskDescription)
	}
	return recs[0], nil
}

// Alternatives returns up to three other agents sharing at least one
// capability tag with the named agent.
func (r *Registry) Alternatives(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return r.alternativesLocked(def)
}

func (r *Registry) alternativesLocked(def *Definition) []string {
	var names []string
	for _, other := range r.agents {
		if other == def {
			continue
		}
		if def.SharesCapability(other) {
			names = append(names, other.Name)
		}
	}
	sort.Strings(names)
	if len(names) > maxAlternatives {
		names = names[:maxAlternatives]
	}
	return names
}

// scoreAgent computes an agent's confidence for a lowercased task text.
// Capability tags count individually; description overlap is the fraction
// of task words found among the agent's description words; owning a tool
// relevant to a triggered category adds once; implied permissions add when
// granted and subtract when missing.
func scoreAgent(def *Definition, task string, taskWords []string) (float64, []string) {
	var score float64
	var reasons []string

	for _, tag := range def.Capabilities {
		norm := strings.ReplaceAll(strings.ToLower(tag), "_", " ")
		if norm != "" && strings.Contains(task, norm) {
			score += capabilityWeight
			reasons = append(reasons, fmt.Sprintf("capability %s matches task", tag))
		}
	}

	if len(taskWords) > 0 {
		descWords := wordSet(def.Description)
		matched := 0
		for _, w := range taskWords {
			if descWords[w] {
				matched++
			}
		}
		if matched > 0 {
			frac := float64(matched) / float64(len(taskWords))
			score += overlapWeight * frac
			reasons = append(reasons, fmt.Sprintf("description overlap %d/%d words", matched, len(taskWords)))
		}
	}

	toolHit := false
	for _, cat := range toolCategories {
		if toolHit {
			break
		}
		if !containsAnyWord(task, cat.triggers) {
			continue
		}
		for _, tool := range cat.tools {
			if def.hasTool(tool) {
				score += toolWeight
				reasons = append(reasons, fmt.Sprintf("owns %s tooling (%s)", cat.name, tool))
				toolHit = true
				break
			}
		}
	}

	for _, need := range permissionNeeds {
		if !containsAnyWord(task, need.triggers) {
			continue
		}
		if def.Permissions[need.permission] {
			score += permissionBonus
			reasons = append(reasons, fmt.Sprintf("has %s", need.permission))
		} else {
			score -= permissionPenalty
			reasons = append(reasons, fmt.Sprintf("lacks %s", need.permission))
		}
	}

	return score, reasons
}

func containsAnyWord(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// extractWords tokenizes text into lowercased significant words: alphanumeric
// runs of three or more characters, stopwords and duplicates removed.
func extractWords(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})

	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 3 || stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range extractWords(text) {
		set[w] = true
	}
	return set
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true,
	"but": true, "not": true, "you": true, "all": true,
	"can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true,
	"have": true, "been": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true,
	"what": true, "when": true, "make": true, "like": true,
	"just": true, "into": true, "than": true, "them": true,
	"some": true, "could": true, "would": true, "there": true,
}
