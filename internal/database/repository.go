package database

import (
	"context"
	"fmt"
	"time"

	"kospi-sniper-bot/internal/engine"
)

// Repository reads the day's recommended symbols and records their live
// trading status. Recommendations are written by the overnight screener;
// the engine only consumes them and updates status.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// ActiveTargets loads the watch list for a session: every recommendation
// dated `day` plus any still-open position carried over from an earlier
// date. Open positions sort first so that, on a duplicate code, the engine
// keeps the position record rather than the fresh recommendation.
func (r *Repository) ActiveTargets(ctx context.Context, day time.Time) ([]*engine.WatchedSymbol, error) {
	query := `
		SELECT stock_code, stock_name, category, position_tag, prob,
		       status, COALESCE(entry_price, 0), quantity
		FROM recommendation_history
		WHERE (trade_date = $1 AND status != 'COMPLETED')
		   OR status IN ('HOLDING', 'PENDING')
		ORDER BY (status = 'HOLDING') DESC, (status = 'PENDING') DESC, id`

	rows, err := r.db.Pool.Query(ctx, query, day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query active targets: %w", err)
	}
	defer rows.Close()

	var out []*engine.WatchedSymbol
	for rows.Next() {
		var (
			sym        engine.WatchedSymbol
			category   string
			tag        string
			status     string
			entryPrice float64
		)
		if err := rows.Scan(&sym.Code, &sym.Name, &category, &tag, &sym.Prob,
			&status, &entryPrice, &sym.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		sym.Category = engine.Category(category)
		sym.PositionTag = engine.PositionTag(tag)
		sym.Status = engine.Status(status)
		sym.EntryPrice = entryPrice
		if sym.Status == engine.StatusHolding {
			sym.PeakPrice = entryPrice
		}
		out = append(out, &sym)
	}
	return out, rows.Err()
}

// Candidates returns the day's recommendations at or above minProb, for
// intraday watch-list replenishment. The engine skips codes it already
// tracks, so returning the full set is fine.
func (r *Repository) Candidates(ctx context.Context, day time.Time, minProb float64) ([]engine.Candidate, error) {
	query := `
		SELECT stock_code, stock_name, position_tag, prob
		FROM recommendation_history
		WHERE trade_date = $1 AND status = 'WATCHING' AND prob >= $2
		ORDER BY prob DESC`

	rows, err := r.db.Pool.Query(ctx, query, day.Format("2006-01-02"), minProb)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []engine.Candidate
	for rows.Next() {
		var (
			c   engine.Candidate
			tag string
		)
		if err := rows.Scan(&c.Code, &c.Name, &tag, &c.Prob); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		c.PositionTag = engine.PositionTag(tag)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertRecommendation records one recommendation for the given day,
// leaving any existing live status untouched.
func (r *Repository) UpsertRecommendation(ctx context.Context, day time.Time, c engine.Candidate, category engine.Category) error {
	query := `
		INSERT INTO recommendation_history
			(trade_date, stock_code, stock_name, category, position_tag, prob)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (trade_date, stock_code) DO UPDATE SET
			stock_name = EXCLUDED.stock_name,
			position_tag = EXCLUDED.position_tag,
			prob = EXCLUDED.prob,
			updated_at = NOW()`

	_, err := r.db.Pool.Exec(ctx, query,
		day.Format("2006-01-02"), c.Code, c.Name, string(category), string(c.PositionTag), c.Prob)
	if err != nil {
		return fmt.Errorf("failed to upsert recommendation: %w", err)
	}
	return nil
}

// UpdateStatus records a symbol's lifecycle transition. Rows are matched by
// code across dates so carried-over positions update their original row.
func (r *Repository) UpdateStatus(ctx context.Context, sym *engine.WatchedSymbol) error {
	query := `
		UPDATE recommendation_history
		SET status = $2, entry_price = $3, quantity = $4, updated_at = NOW()
		WHERE id = (
			SELECT id FROM recommendation_history
			WHERE stock_code = $1
			ORDER BY trade_date DESC
			LIMIT 1
		)`

	_, err := r.db.Pool.Exec(ctx, query,
		sym.Code, string(sym.Status), sym.EntryPrice, sym.Quantity)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", sym.Code, err)
	}
	return nil
}
