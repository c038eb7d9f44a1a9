package routing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/skoll/overseer/internal/provider"
	"go.uber.org/zap"
)

// ErrNoProviders is returned when the catalog holds no profiles to score.
var ErrNoProviders = errors.New("no providers registered")

const (
	costWeight        = 0.4
	speedWeight       = 0.2
	speedWeightUrgent = 0.4
	suitWeight        = 0.3
	reliabilityWeight = 0.1

	suitOptimal  = 100.0
	suitStrength = 80.0
	suitNeutral  = 50.0

	// speedScale is the latency at which speedScore bottoms out.
	speedScale = 10000.0
)

// Query describes one selection request.
type Query struct {
	TaskType      string
	PromptTokens  int
	Identifier    string // requesting agent, applies its speed threshold
	SpeedPriority bool
	Emergency     bool // budget emergency: restrict to zero-cost providers
}

// Scored is one provider's ranking for a query.
type Scored struct {
	Profile *provider.Profile
	Score   float64
	Reason  string
}

// Selector ranks provider profiles for a task by cost, speed, suitability
// and reliability. Per-identifier speed thresholds exclude providers whose
// average latency is too high.
type Selector struct {
	catalog    *provider.Catalog
	thresholds map[string]int64 // identifier -> max avg response ms
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewSelector creates a selector over a provider catalog.
func NewSelector(catalog *provider.Catalog, logger *zap.Logger) *Selector {
	return &Selector{
		catalog:    catalog,
		thresholds: make(map[string]int64),
		logger:     logger,
	}
}

// SetSpeedThreshold caps acceptable average response time for an
// identifier; 0 removes the cap.
func (s *Selector) SetSpeedThreshold(identifier string, maxMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxMs <= 0 {
		delete(s.thresholds, identifier)
		return
	}
	s.thresholds[identifier] = maxMs
}

// SpeedThreshold returns the identifier's cap (0 = none).
func (s *Selector) SpeedThreshold(identifier string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds[identifier]
}

// Select scores the eligible profiles for a query and returns them best
// first. Emergency mode restricts candidates to zero-cost providers,
// falling back to the cheapest when none is registered; a speed threshold
// that excludes everything falls back to the single fastest provider.
func (s *Selector) Select(q Query) ([]*Scored, error) {
	candidates := s.catalog.Profiles()
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	if q.Emergency {
		candidates = s.restrictToZeroCost(candidates, q)
	}

	if t := s.SpeedThreshold(q.Identifier); t > 0 {
		candidates = restrictToThreshold(candidates, t)
	}

	ranked := make([]*Scored, 0, len(candidates))
	for _, p := range candidates {
		score, reason := scoreProfile(p, q)
		ranked = append(ranked, &Scored{Profile: p, Score: score, Reason: reason})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Profile.ID < ranked[j].Profile.ID
	})

	s.logger.Debug("provider selected",
		zap.String("task_type", q.TaskType),
		zap.String("winner", ranked[0].Profile.ID),
		zap.String("reason", ranked[0].Reason))
	return ranked, nil
}

// restrictToZeroCost narrows candidates to free providers; with none
// registered the cheapest paid provider serves, under a warning.
func (s *Selector) restrictToZeroCost(candidates []*provider.Profile, q Query) []*provider.Profile {
	var free []*provider.Profile
	for _, p := range candidates {
		if p.ZeroCost() {
			free = append(free, p)
		}
	}
	if len(free) > 0 {
		return free
	}

	cheapest := candidates[0]
	for _, p := range candidates[1:] {
		if p.EstimateCost(q.PromptTokens) < cheapest.EstimateCost(q.PromptTokens) {
			cheapest = p
		}
	}
	s.logger.Warn("budget emergency with no zero-cost provider, using cheapest",
		zap.String("provider", cheapest.ID),
		zap.String("identifier", q.Identifier))
	return []*provider.Profile{cheapest}
}

// restrictToThreshold keeps providers under the latency cap; when the cap
// excludes everything the single fastest provider stays eligible.
func restrictToThreshold(candidates []*provider.Profile, maxMs int64) []*provider.Profile {
	var fit []*provider.Profile
	for _, p := range candidates {
		if p.AvgResponseTimeMs <= maxMs {
			fit = append(fit, p)
		}
	}
	if len(fit) > 0 {
		return fit
	}

	fastest := candidates[0]
	for _, p := range candidates[1:] {
		if p.AvgResponseTimeMs < fastest.AvgResponseTimeMs {
			fastest = p
		}
	}
	return []*provider.Profile{fastest}
}

// scoreProfile computes the weighted score and its explanation. Sub-scores
// are normalized to 0..100.
func scoreProfile(p *provider.Profile, q Query) (float64, string) {
	costScore := 100 - math.Min(100, p.EstimateCost(q.PromptTokens)*1000)

	speedScore := 100 * (1 - float64(p.AvgResponseTimeMs)/speedScale)
	speedScore = math.Max(0, math.Min(100, speedScore))

	suit := suitNeutral
	switch {
	case p.OptimalForTask(q.TaskType):
		suit = suitOptimal
	case p.StrengthMatches(q.TaskType):
		suit = suitStrength
	}

	sw := speedWeight
	if q.SpeedPriority {
		sw = speedWeightUrgent
	}

	score := costWeight*costScore + sw*speedScore + suitWeight*suit +
		reliabilityWeight*p.Reliability*100

	reason := fmt.Sprintf("%s: cost=%.1f speed=%.1f suit=%.0f rel=%.0f → %.1f",
		p.ID, costScore, speedScore, suit, p.Reliability*100, score)
	return score, reason
}
