package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skoll/overseer/internal/workspace"
	"go.uber.org/zap"
)

// ErrNoSuitableAgent is returned when no registered agent clears the
// recommendation confidence floor for a task.
var ErrNoSuitableAgent = errors.New("no suitable agent for task")

// Registry indexes agent definitions by name and answers capability
// queries. All mutation goes through Register; reads are lock-guarded
// and side-effect free.
type Registry struct {
	agents map[string]*Definition // keyed by lowercase name
	ws     *workspace.Workspace   // nil disables persistence
	now    func() time.Time
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates an empty registry. ws may be nil, in which case
// definitions live only in memory.
func NewRegistry(ws *workspace.Workspace, logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*Definition),
		ws:     ws,
		now:    time.Now,
		logger: logger,
	}
}

// Register validates a definition and adds it to the index, replacing any
// existing definition with the same lowercase name. When a workspace is
// attached the definition is persisted as its own JSON document.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("agent definition: nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	key := strings.ToLower(def.Name)

	r.mu.Lock()
	now := r.now()
	if prev, ok := r.agents[key]; ok {
		def.CreatedAt = prev.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	r.agents[key] = def
	r.mu.Unlock()

	r.logger.Info("registered agent",
		zap.String("name", def.Name),
		zap.String("role", def.Role),
		zap.Int("capabilities", len(def.Capabilities)))

	if r.ws != nil {
		if err := r.ws.WriteDoc(r.ws.AgentPath(key), def); err != nil {
			return fmt.Errorf("persist agent %q: %w", def.Name, err)
		}
	}
	return nil
}

// Load scans the workspace agents directory and registers every valid
// definition found. Files that fail to parse or validate are skipped with
// a warning; a missing directory means nothing to load. Returns the
// number of definitions loaded.
func (r *Registry) Load() (int, error) {
	if r.ws == nil {
		return 0, nil
	}
	entries, err := os.ReadDir(r.ws.AgentsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read agents dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), workspace.AgentDefinitionSuffix) {
			continue
		}
		path := r.ws.AgentPath(strings.TrimSuffix(entry.Name(), workspace.AgentDefinitionSuffix))
		var def Definition
		if err := r.ws.ReadDoc(path, &def); err != nil {
			r.logger.Warn("skipping unreadable agent definition",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if err := def.Validate(); err != nil {
			r.logger.Warn("skipping invalid agent definition",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.agents[strings.ToLower(def.Name)] = &def
		r.mu.Unlock()
		loaded++
	}
	r.logger.Info("loaded agent definitions", zap.Int("count", loaded))
	return loaded, nil
}

// Get returns a definition by name, case-insensitively.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.agents[strings.ToLower(name)]
	return d, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.agents))
	for _, d := range r.agents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
