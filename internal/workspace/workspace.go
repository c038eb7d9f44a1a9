package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	// DefaultDir is the project-local state directory.
	DefaultDir = ".overseer"
	// AgentDefinitionSuffix marks one-agent-per-file definition documents.
	AgentDefinitionSuffix = ".agent.definition.json"

	agentsSubdir = "agents"
	cacheDoc     = "cache.json"
	metricsLog   = "metrics.ndjson"
	budgetDoc    = "budget.json"
)

// Workspace owns the dot-prefixed state directory: agent definitions,
// the cache snapshot, the budget snapshot and the usage log all live here.
type Workspace struct {
	root   string
	logger *zap.Logger
}

// New creates a workspace rooted at dir; "" uses DefaultDir relative to
// the working directory.
func New(dir string, logger *zap.Logger) *Workspace {
	if dir == "" {
		dir = DefaultDir
	}
	return &Workspace{root: dir, logger: logger}
}

// EnsureDirs creates the workspace directory tree.
func (w *Workspace) EnsureDirs() error {
	for _, dir := range []string{w.root, w.AgentsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace dir %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// AgentsDir returns the agent-definition directory.
func (w *Workspace) AgentsDir() string { return filepath.Join(w.root, agentsSubdir) }

// AgentPath returns the definition document path for an agent name.
func (w *Workspace) AgentPath(name string) string {
	return filepath.Join(w.AgentsDir(), name+AgentDefinitionSuffix)
}

// CachePath returns the response-cache snapshot path.
func (w *Workspace) CachePath() string { return filepath.Join(w.root, cacheDoc) }

// MetricsPath returns the append-only usage log path.
func (w *Workspace) MetricsPath() string { return filepath.Join(w.root, metricsLog) }

// BudgetPath returns the budget snapshot path.
func (w *Workspace) BudgetPath() string { return filepath.Join(w.root, budgetDoc) }

// WriteDoc marshals v with indentation and writes it atomically: the
// document lands under a temp name first, then renames into place.
func (w *Workspace) WriteDoc(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadDoc unmarshals a JSON document into v. The caller decides whether a
// missing or corrupt document is fatal; os.IsNotExist distinguishes absence.
func (w *Workspace) ReadDoc(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RemoveDoc deletes a document, ignoring absence.
func (w *Workspace) RemoveDoc(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
