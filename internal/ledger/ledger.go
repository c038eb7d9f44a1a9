package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxHistory bounds the in-memory record window.
const maxHistory = 10000

// Record is one routed request's usage entry.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	AgentID      string    `json:"agent_id,omitempty"`
	TaskType     string    `json:"task_type"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	CacheHit     bool      `json:"cache_hit"`
	TokensSaved  int       `json:"tokens_saved,omitempty"`
	Efficiency   int       `json:"efficiency"`
}

// Sink receives every record for durable storage.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
}

// ProviderTotals aggregates usage for one provider.
type ProviderTotals struct {
	Requests int     `json:"requests"`
	CostUSD  float64 `json:"cost_usd"`
	Tokens   int     `json:"tokens"`
}

// Metrics is the real-time usage summary.
type Metrics struct {
	TotalRequests int                       `json:"total_requests"`
	TotalCostUSD  float64                   `json:"total_cost_usd"`
	TotalTokens   int                       `json:"total_tokens"`
	CacheHits     int                       `json:"cache_hits"`
	CacheHitRate  float64                   `json:"cache_hit_rate"`
	AvgLatencyMs  float64                   `json:"avg_latency_ms"`
	AvgEfficiency float64                   `json:"avg_efficiency"`
	TokensSaved   int                       `json:"tokens_saved"`
	ByProvider    map[string]ProviderTotals `json:"by_provider"`
	Since         time.Time                 `json:"since"`
}

// Ledger keeps a bounded usage history with running aggregates and fans
// records out to sinks.
type Ledger struct {
	records    []*Record
	byProvider map[string]ProviderTotals

	totalCost     float64
	totalTokens   int
	totalRequests int
	cacheHits     int
	totalLatency  int64
	totalEff      int
	tokensSaved   int
	since         time.Time

	sinks  []Sink
	now    func() time.Time
	mu     sync.Mutex
	logger *zap.Logger
}

// New creates an empty ledger.
func New(logger *zap.Logger) *Ledger {
	l := &Ledger{
		byProvider: make(map[string]ProviderTotals),
		now:        time.Now,
		logger:     logger,
	}
	l.since = l.now()
	return l
}

// AddSink registers a durable sink. Sink failures are logged, never fatal.
func (l *Ledger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Record stores a usage entry, filling ID, timestamp and efficiency
// when unset.
func (l *Ledger) Record(ctx context.Context, rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.Efficiency == 0 {
		rec.Efficiency = EfficiencyScore(rec.CostUSD, rec.LatencyMs, rec.InputTokens+rec.OutputTokens)
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > maxHistory {
		l.records = l.records[len(l.records)-maxHistory:]
	}
	l.totalRequests++
	l.totalCost += rec.CostUSD
	l.totalTokens += rec.InputTokens + rec.OutputTokens
	l.totalLatency += rec.LatencyMs
	l.totalEff += rec.Efficiency
	l.tokensSaved += rec.TokensSaved
	if rec.CacheHit {
		l.cacheHits++
	}
	pt := l.byProvider[rec.Provider]
	pt.Requests++
	pt.CostUSD += rec.CostUSD
	pt.Tokens += rec.InputTokens + rec.OutputTokens
	l.byProvider[rec.Provider] = pt
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.Write(ctx, rec); err != nil {
			l.logger.Warn("usage sink write failed", zap.Error(err))
		}
	}
}

// Metrics returns the real-time usage summary.
func (l *Ledger) Metrics() *Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := &Metrics{
		TotalRequests: l.totalRequests,
		TotalCostUSD:  l.totalCost,
		TotalTokens:   l.totalTokens,
		CacheHits:     l.cacheHits,
		TokensSaved:   l.tokensSaved,
		ByProvider:    make(map[string]ProviderTotals, len(l.byProvider)),
		Since:         l.since,
	}
	for k, v := range l.byProvider {
		m.ByProvider[k] = v
	}
	if l.totalRequests > 0 {
		m.CacheHitRate = float64(l.cacheHits) / float64(l.totalRequests)
		m.AvgLatencyMs = float64(l.totalLatency) / float64(l.totalRequests)
		m.AvgEfficiency = float64(l.totalEff) / float64(l.totalRequests)
	}
	return m
}

// Recent returns up to n most recent records, newest last.
func (l *Ledger) Recent(n int) []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]*Record, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

// EfficiencyScore grades an exchange from 0 to 100 by cost, latency and
// token volume.
func EfficiencyScore(costUSD float64, latencyMs int64, totalTokens int) int {
	score := 100
	switch {
	case costUSD > 0.10:
		score -= 35
	case costUSD > 0.05:
		score -= 20
	}
	switch {
	case latencyMs > 10000:
		score -= 25
	case latencyMs > 5000:
		score -= 15
	}
	switch {
	case totalTokens > 4000:
		score -= 15
	case totalTokens > 2000:
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}
