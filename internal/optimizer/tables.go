package optimizer

import (
	"regexp"
	"strings"
)

// phraseRule rewrites one literal phrase, case-insensitively.
type phraseRule struct {
	re   *regexp.Regexp
	repl string
}

func rule(phrase, repl string) phraseRule {
	return phraseRule{
		re:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase)),
		repl: repl,
	}
}

func (r phraseRule) apply(s string) string {
	return r.re.ReplaceAllLiteralString(s, r.repl)
}

// fillerRules remove or shorten phrases that carry no payload.
var fillerRules = []phraseRule{
	rule("please note that ", ""),
	rule("it is important to ", ""),
	rule("keep in mind that ", ""),
	rule("as you can see, ", ""),
	rule("as you can see ", ""),
	rule("in order to", "to"),
	rule("due to the fact that", "because"),
}

// compressionRules shorten common wordy constructions.
var compressionRules = []phraseRule{
	rule("as soon as possible", "promptly"),
	rule("a large number of", "many"),
	rule("in the event that", "if"),
	rule("at this point in time", "now"),
	rule("make sure to", "ensure you"),
	rule("is able to", "can"),
	rule("with regard to", "about"),
}

// templateRules hold per-task-type literal phrase templates.
var templateRules = map[string][]phraseRule{
	"code_generation": {
		rule("implement a function that", "implement function to"),
		rule("write a program that", "write program to"),
		rule("create a class that", "create class to"),
	},
	"code_analysis": {
		rule("analyze the following code", "analyze code"),
		rule("review the following code", "review code"),
		rule("review the following", "review"),
	},
	"debugging": {
		rule("find and fix the bug", "fix bug"),
		rule("the error message says", "error:"),
	},
	"documentation": {
		rule("write documentation for", "document"),
	},
}

// tokenCeilings are the smart-truncation limits per task type.
var tokenCeilings = map[string]int{
	"code_generation": 2000,
	"code_analysis":   1500,
	"debugging":       1800,
	"documentation":   1200,
	"testing":         1500,
	"general":         1000,
}

// truncationKeywords mark sentences to preserve when truncating.
var truncationKeywords = map[string][]string{
	"code_generation": {"function", "class", "return", "input", "output"},
	"code_analysis":   {"bug", "issue", "security", "performance"},
	"debugging":       {"error", "exception", "fail", "stack"},
	"testing":         {"test", "assert", "case", "coverage"},
	"documentation":   {"param", "return", "usage", "example"},
	"general":         {"must", "should", "need"},
}

// TaskTypes lists the task types with dedicated optimization tables.
func TaskTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for t := range tokenCeilings {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// NormalizeTaskType lowercases and defaults an incoming task type.
func NormalizeTaskType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "general"
	}
	return t
}
