package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// BudgetWindow is one identifier's persisted daily budget window. The empty
// identifier holds the global window.
type BudgetWindow struct {
	Identifier string    `json:"identifier"`
	WindowDate string    `json:"window_date"`
	BudgetUSD  float64   `json:"budget_usd"`
	SpentUSD   float64   `json:"spent_usd"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UpsertBudgetWindow stores a window's budget and spend for its date.
func (s *Store) UpsertBudgetWindow(ctx context.Context, w *BudgetWindow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO budget_windows (identifier, window_date, budget_usd, spent_usd, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identifier, window_date) DO UPDATE SET
			budget_usd = EXCLUDED.budget_usd,
			spent_usd = EXCLUDED.spent_usd,
			updated_at = EXCLUDED.updated_at`,
		w.Identifier, w.WindowDate, w.BudgetUSD, w.SpentUSD, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert budget window %q/%s: %w", w.Identifier, w.WindowDate, err)
	}
	return nil
}

// GetBudgetWindow loads one identifier's window for a date. Returns
// (nil, nil) when the window does not exist.
func (s *Store) GetBudgetWindow(ctx context.Context, identifier, date string) (*BudgetWindow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT identifier, window_date, budget_usd, spent_usd, updated_at
		FROM budget_windows
		WHERE identifier = $1 AND window_date = $2`, identifier, date)

	var w BudgetWindow
	err := row.Scan(&w.Identifier, &w.WindowDate, &w.BudgetUSD, &w.SpentUSD, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget window %q/%s: %w", identifier, date, err)
	}
	return &w, nil
}

// ListBudgetWindows returns every window recorded for a date.
func (s *Store) ListBudgetWindows(ctx context.Context, date string) ([]*BudgetWindow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT identifier, window_date, budget_usd, spent_usd, updated_at
		FROM budget_windows
		WHERE window_date = $1
		ORDER BY identifier`, date)
	if err != nil {
		return nil, fmt.Errorf("list budget windows %s: %w", date, err)
	}
	defer rows.Close()

	var windows []*BudgetWindow
	for rows.Next() {
		var w BudgetWindow
		if err := rows.Scan(&w.Identifier, &w.WindowDate, &w.BudgetUSD, &w.SpentUSD, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan budget window: %w", err)
		}
		windows = append(windows, &w)
	}
	return windows, rows.Err()
}
