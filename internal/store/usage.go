package store

import (
	"context"
	"fmt"
	"time"

	"github.com/skoll/overseer/internal/ledger"
)

// InsertUsage appends one routed request's usage record.
func (s *Store) InsertUsage(ctx context.Context, rec *ledger.Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_records (id, agent_id, task_type, provider, model,
			input_tokens, output_tokens, cost_usd, latency_ms, cache_hit,
			tokens_saved, efficiency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.AgentID, rec.TaskType, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.LatencyMs,
		rec.CacheHit, rec.TokensSaved, rec.Efficiency, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage %s: %w", rec.ID, err)
	}
	return nil
}

// Write lets the store act as a ledger sink.
func (s *Store) Write(ctx context.Context, rec *ledger.Record) error {
	return s.InsertUsage(ctx, rec)
}

var _ ledger.Sink = (*Store)(nil)

// RecentUsage returns the newest usage records, newest first.
func (s *Store) RecentUsage(ctx context.Context, limit int) ([]*ledger.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, task_type, provider, model,
		       input_tokens, output_tokens, cost_usd, latency_ms, cache_hit,
		       tokens_saved, efficiency, created_at
		FROM usage_records
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	var records []*ledger.Record
	for rows.Next() {
		var rec ledger.Record
		if err := rows.Scan(
			&rec.ID, &rec.AgentID, &rec.TaskType, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.LatencyMs,
			&rec.CacheHit, &rec.TokensSaved, &rec.Efficiency, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// TotalsByProvider aggregates requests, cost and tokens per provider since
// a point in time.
func (s *Store) TotalsByProvider(ctx context.Context, since time.Time) (map[string]ledger.ProviderTotals, error) {
	rows, err := s.db.Query(ctx, `
		SELECT provider,
		       COUNT(*),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM usage_records
		WHERE created_at >= $1
		GROUP BY provider`, since)
	if err != nil {
		return nil, fmt.Errorf("totals by provider: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]ledger.ProviderTotals)
	for rows.Next() {
		var provider string
		var t ledger.ProviderTotals
		if err := rows.Scan(&provider, &t.Requests, &t.CostUSD, &t.Tokens); err != nil {
			return nil, fmt.Errorf("scan provider totals: %w", err)
		}
		totals[provider] = t
	}
	return totals, rows.Err()
}
