package routing

import (
	"context"
	"sort"
	"sync"

	"github.com/skoll/overseer/internal/optimizer"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// defaultBatchWorkers bounds concurrent dispatches across the whole batch.
const defaultBatchWorkers = 8

// BatchItem is one request's outcome within a batch, at its input index.
type BatchItem struct {
	Index  int     `json:"index"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// BatchRoute processes requests grouped by their selected provider. Within
// a group, requests run in priority order (critical first), chunked to the
// provider's batch size with the provider's delay between chunks. Results
// come back in input order; a failed item never aborts the batch.
func (r *Router) BatchRoute(ctx context.Context, reqs []*Request) []*BatchItem {
	items := make([]*BatchItem, len(reqs))
	for i := range items {
		items[i] = &BatchItem{Index: i}
	}
	if len(reqs) == 0 {
		return items
	}

	groups := r.groupByProvider(reqs)
	pool := make(chan struct{}, defaultBatchWorkers)

	var wg sync.WaitGroup
	for providerID, indexes := range groups {
		wg.Add(1)
		go func(providerID string, indexes []int) {
			defer wg.Done()
			r.runGroup(ctx, providerID, indexes, reqs, items, pool)
		}(providerID, indexes)
	}
	wg.Wait()
	return items
}

// groupByProvider selects a provider per request and buckets the request
// indexes under it. Selection failures land in the "" bucket and surface
// per item during dispatch.
func (r *Router) groupByProvider(reqs []*Request) map[string][]int {
	groups := make(map[string][]int)
	for i, req := range reqs {
		taskType := optimizer.NormalizeTaskType(req.TaskType)
		ranked, err := r.selector.Select(Query{
			TaskType:      taskType,
			PromptTokens:  optimizer.EstimateTokens(req.Prompt),
			Identifier:    req.AgentID,
			SpeedPriority: req.SpeedPriority || priorityRank(req.Priority) >= 2,
			Emergency:     r.budget.Emergency(req.AgentID),
		})
		if err != nil {
			groups[""] = append(groups[""], i)
			continue
		}
		id := ranked[0].Profile.ID
		groups[id] = append(groups[id], i)
	}
	return groups
}

// runGroup executes one provider's bucket: priority-sorted, chunked to the
// provider's batch size, paced by its inter-batch delay.
func (r *Router) runGroup(ctx context.Context, providerID string, indexes []int, reqs []*Request, items []*BatchItem, pool chan struct{}) {
	sort.SliceStable(indexes, func(a, b int) bool {
		return priorityRank(reqs[indexes[a]].Priority) > priorityRank(reqs[indexes[b]].Priority)
	})

	chunkSize := len(indexes)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if profile, ok := r.catalog.Profile(providerID); ok {
		if profile.MaxBatchSize > 0 {
			chunkSize = profile.MaxBatchSize
		}
		if profile.BatchDelay > 0 {
			limiter = rate.NewLimiter(rate.Every(profile.BatchDelay), 1)
		}
	}

	for start := 0; start < len(indexes); start += chunkSize {
		end := start + chunkSize
		if end > len(indexes) {
			end = len(indexes)
		}
		if err := limiter.Wait(ctx); err != nil {
			for _, idx := range indexes[start:] {
				items[idx].Err = err
			}
			return
		}

		var wg sync.WaitGroup
		for _, idx := range indexes[start:end] {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				pool <- struct{}{}
				defer func() { <-pool }()

				res, err := r.Route(ctx, reqs[idx])
				items[idx].Result = res
				items[idx].Err = err
			}(idx)
		}
		wg.Wait()
	}

	r.logger.Debug("batch group complete",
		zap.String("provider", providerID),
		zap.Int("requests", len(indexes)))
}
