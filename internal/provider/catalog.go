package provider

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Catalog holds the registered providers and their profiles.
type Catalog struct {
	profiles map[string]*Profile
	clients  map[string]Provider
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewCatalog creates an empty provider catalog.
func NewCatalog(logger *zap.Logger) *Catalog {
	return &Catalog{
		profiles: make(map[string]*Profile),
		clients:  make(map[string]Provider),
		logger:   logger,
	}
}

// Register adds a provider and its profile to the catalog.
func (c *Catalog) Register(profile *Profile, client Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[profile.ID] = profile
	c.clients[profile.ID] = client
	c.logger.Info("registered provider",
		zap.String("id", profile.ID),
		zap.String("model", profile.Model),
		zap.Float64("input_cost_per_mtok", profile.InputCostPerMTok))
}

// Profile returns the profile for a provider ID.
func (c *Catalog) Profile(id string) (*Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	return p, ok
}

// Profiles returns all registered profiles sorted by ID.
func (c *Catalog) Profiles() []*Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Client returns the provider client for an ID.
func (c *Catalog) Client(id string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.clients[id]
	return p, ok
}

// Len returns the number of registered providers.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}

// HealthCheck pings every registered provider and returns failures by ID.
func (c *Catalog) HealthCheck(ctx context.Context) map[string]error {
	c.mu.RLock()
	clients := make(map[string]Provider, len(c.clients))
	for id, p := range c.clients {
		clients[id] = p
	}
	c.mu.RUnlock()

	failures := make(map[string]error)
	for id, p := range clients {
		if err := p.HealthCheck(ctx); err != nil {
			failures[id] = err
		}
	}
	return failures
}
