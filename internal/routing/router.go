package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skoll/overseer/internal/budget"
	"github.com/skoll/overseer/internal/cache"
	"github.com/skoll/overseer/internal/events"
	"github.com/skoll/overseer/internal/ledger"
	"github.com/skoll/overseer/internal/optimizer"
	"github.com/skoll/overseer/internal/provider"
	"go.uber.org/zap"
)

// ErrAllProvidersFailed is returned when every eligible provider errored.
var ErrAllProvidersFailed = errors.New("all providers failed")

const (
	// dispatchTimeoutFactor scales a provider's average response time into
	// its per-call deadline.
	dispatchTimeoutFactor = 3
	// minDispatchTimeout floors the per-call deadline.
	minDispatchTimeout = 10 * time.Second
)

// Request is one logical message to route.
type Request struct {
	AgentID       string        `json:"agent_id,omitempty"`
	TaskType      string        `json:"task_type,omitempty"`
	Prompt        string        `json:"prompt"`
	Model         string        `json:"model,omitempty"`
	Priority      string        `json:"priority,omitempty"` // low|normal|high|critical
	MaxCostUSD    float64       `json:"max_cost_usd,omitempty"`
	CacheTTL      time.Duration `json:"cache_ttl,omitempty"`
	SpeedPriority bool          `json:"speed_priority,omitempty"`
	SkipCache     bool          `json:"skip_cache,omitempty"`
}

// Result is the priced outcome of a routed request. A CostLimited result
// is a normal response variant: no provider was called and nothing was
// charged.
type Result struct {
	Content      string  `json:"content"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model,omitempty"`
	FromCache    bool    `json:"from_cache"`
	CostLimited  bool    `json:"cost_limited,omitempty"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TokensSaved  int     `json:"tokens_saved,omitempty"`
	LatencyMs    int64   `json:"latency_ms"`
	Reason       string  `json:"reason,omitempty"`
}

// Router is the single entry point turning a logical request into a
// priced, possibly cached response. It composes the cache, the prompt
// optimizer, the provider selector, the budget controller and the usage
// ledger in a fixed order.
type Router struct {
	catalog   *provider.Catalog
	selector  *Selector
	optimizer *optimizer.Optimizer
	cache     *cache.Cache
	ledger    *ledger.Ledger
	budget    *budget.Controller
	bus       *events.Bus // optional
	logger    *zap.Logger
}

// NewRouter wires the routing pipeline. bus may be nil.
func NewRouter(
	catalog *provider.Catalog,
	selector *Selector,
	opt *optimizer.Optimizer,
	c *cache.Cache,
	led *ledger.Ledger,
	bud *budget.Controller,
	bus *events.Bus,
	logger *zap.Logger,
) *Router {
	return &Router{
		catalog:   catalog,
		selector:  selector,
		optimizer: opt,
		cache:     c,
		ledger:    led,
		budget:    bud,
		bus:       bus,
		logger:    logger,
	}
}

// Route processes one request: cache lookup, prompt optimization, provider
// selection, cost-limit check, dispatch with fallback, then settlement.
func (r *Router) Route(ctx context.Context, req *Request) (*Result, error) {
	taskType := optimizer.NormalizeTaskType(req.TaskType)
	priority := normalizePriority(req.Priority)

	rawKey := cache.Key(taskType, req.Prompt)
	if !req.SkipCache {
		if hit, ok := r.cache.Get(rawKey); ok {
			return r.settleCacheHit(ctx, req, taskType, &hit), nil
		}
	}

	opt := r.optimizer.Optimize(req.Prompt, taskType)

	ranked, err := r.selector.Select(Query{
		TaskType:      taskType,
		PromptTokens:  opt.OptimizedTokens,
		Identifier:    req.AgentID,
		SpeedPriority: req.SpeedPriority || priority == "high" || priority == "critical",
		Emergency:     r.budget.Emergency(req.AgentID),
	})
	if err != nil {
		return nil, err
	}

	if req.MaxCostUSD > 0 {
		ranked = withinCostLimit(ranked, opt.OptimizedTokens, req.MaxCostUSD)
		if len(ranked) == 0 {
			return r.costLimitedResult(req, opt.OptimizedTokens), nil
		}
	}

	resp, winner, latency, err := r.dispatch(ctx, req, ranked, opt.Text)
	if err != nil {
		return nil, err
	}

	return r.settle(ctx, req, taskType, rawKey, opt, resp, winner, latency), nil
}

// settleCacheHit records and returns a cache hit: zero cost, zero tokens.
func (r *Router) settleCacheHit(ctx context.Context, req *Request, taskType string, hit *cache.Entry) *Result {
	r.ledger.Record(ctx, &ledger.Record{
		AgentID:  req.AgentID,
		TaskType: taskType,
		Provider: hit.Provider,
		Model:    hit.Model,
		CacheHit: true,
	})
	r.publish(events.CostSavings, events.CostSavingsData{
		AgentID:  req.AgentID,
		TaskType: taskType,
		Source:   "cache",
		SavedUSD: hit.CostUSD,
	})
	r.logger.Debug("cache hit",
		zap.String("task_type", taskType),
		zap.String("provider", hit.Provider))
	return &Result{
		Content:   hit.Value,
		Provider:  hit.Provider,
		Model:     hit.Model,
		FromCache: true,
	}
}

// costLimitedResult is the typed no-dispatch variant for requests whose
// projected cost exceeds their limit on every provider.
func (r *Router) costLimitedResult(req *Request, promptTokens int) *Result {
	r.logger.Info("request exceeds cost limit, not dispatched",
		zap.String("agent_id", req.AgentID),
		zap.Float64("max_cost_usd", req.MaxCostUSD),
		zap.Int("prompt_tokens", promptTokens))
	return &Result{
		Content: fmt.Sprintf(
			"Request exceeds the cost limit of $%.4f on every provider. Simplify the prompt or raise the limit.",
			req.MaxCostUSD),
		CostLimited: true,
	}
}

// dispatch walks the ranked providers until one answers, each under its own
// deadline derived from the profile's average response time.
func (r *Router) dispatch(ctx context.Context, req *Request, ranked []*Scored, prompt string) (*provider.ChatResponse, *Scored, int64, error) {
	var lastErr error
	for i, cand := range ranked {
		client, ok := r.catalog.Client(cand.Profile.ID)
		if !ok {
			continue
		}
		if i > 0 {
			r.logger.Warn("falling back to next provider",
				zap.String("provider", cand.Profile.ID),
				zap.Error(lastErr))
		}

		model := req.Model
		if model == "" {
			model = cand.Profile.Model
		}
		callCtx, cancel := context.WithTimeout(ctx, dispatchTimeout(cand.Profile))
		start := time.Now()
		resp, err := client.Chat(callCtx, &provider.ChatRequest{
			Model:    model,
			Messages: []provider.Message{{Role: "user", Content: prompt}},
		})
		latency := time.Since(start).Milliseconds()
		cancel()

		if err == nil {
			return resp, cand, latency, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, nil, 0, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// settle prices the response, caches it under both the raw and optimized
// prompt keys, records usage, charges the budget and reports optimizer
// savings.
func (r *Router) settle(ctx context.Context, req *Request, taskType, rawKey string, opt *optimizer.Result, resp *provider.ChatResponse, winner *Scored, latency int64) *Result {
	inTokens := resp.Usage.InputTokens
	outTokens := resp.Usage.OutputTokens
	if inTokens == 0 && outTokens == 0 {
		inTokens = opt.OptimizedTokens
		outTokens = optimizer.EstimateTokens(resp.Content)
	}
	cost := winner.Profile.Cost(inTokens, outTokens)

	model := resp.Model
	if model == "" {
		model = winner.Profile.Model
	}

	ttl := req.CacheTTL
	if ttl <= 0 {
		ttl = r.cache.TTL()
	}
	ttl = time.Duration(float64(ttl) * r.budget.Multiplier(req.AgentID))

	entry := cache.Entry{
		Value:    resp.Content,
		Provider: winner.Profile.ID,
		Model:    model,
		TaskType: taskType,
		CostUSD:  cost,
	}
	r.cache.Put(rawKey, entry, ttl)
	if optKey := cache.Key(taskType, opt.Text); optKey != rawKey {
		r.cache.Put(optKey, entry, ttl)
	}

	r.ledger.Record(ctx, &ledger.Record{
		AgentID:      req.AgentID,
		TaskType:     taskType,
		Provider:     winner.Profile.ID,
		Model:        model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		CostUSD:      cost,
		LatencyMs:    latency,
		TokensSaved:  opt.TokensSaved(),
	})
	r.budget.Charge(req.AgentID, cost)

	if saved := opt.TokensSaved(); saved > 0 {
		r.publish(events.CostSavings, events.CostSavingsData{
			AgentID:     req.AgentID,
			TaskType:    taskType,
			Source:      "optimizer",
			SavedUSD:    float64(saved) * winner.Profile.InputCostPerMTok / 1e6,
			TokensSaved: saved,
		})
	}

	return &Result{
		Content:      resp.Content,
		Provider:     winner.Profile.ID,
		Model:        model,
		CostUSD:      cost,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		TokensSaved:  opt.TokensSaved(),
		LatencyMs:    latency,
		Reason:       winner.Reason,
	}
}

func (r *Router) publish(t events.Type, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{Type: t, Data: data})
}

// withinCostLimit keeps ranked providers whose projected cost fits the cap.
func withinCostLimit(ranked []*Scored, promptTokens int, maxCostUSD float64) []*Scored {
	fit := make([]*Scored, 0, len(ranked))
	for _, cand := range ranked {
		if cand.Profile.EstimateCost(promptTokens) <= maxCostUSD {
			fit = append(fit, cand)
		}
	}
	return fit
}

func dispatchTimeout(p *provider.Profile) time.Duration {
	t := time.Duration(p.AvgResponseTimeMs) * time.Millisecond * dispatchTimeoutFactor
	if t < minDispatchTimeout {
		t = minDispatchTimeout
	}
	return t
}

// normalizePriority maps free-form priority strings onto the four levels.
func normalizePriority(p string) string {
	switch p {
	case "low", "high", "critical":
		return p
	case "medium":
		return "normal"
	default:
		return "normal"
	}
}

// priorityRank orders priorities for batch sorting: critical first.
func priorityRank(p string) int {
	switch normalizePriority(p) {
	case "critical":
		return 3
	case "high":
		return 2
	case "normal":
		return 1
	default:
		return 0
	}
}
