package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// UsageStore mirrors spend appends into a SQL table for reporting. It is
// optional: a nil store is a no-op and the JSONL ledger stays the source of
// truth for enforcement.
type UsageStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewUsageStore wraps an sqlx handle. Returns nil for a nil db so callers
// can pass the result around without nil checks at every site.
func NewUsageStore(db *sqlx.DB, logger *zap.Logger) *UsageStore {
	if db == nil {
		return nil
	}
	return &UsageStore{db: db, logger: logger}
}

// Record inserts one spend record.
func (s *UsageStore) Record(ctx context.Context, rec SpendRecord, provider string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ralex_usage (id, model, provider, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.Model, provider, rec.CostUSD, rec.Timestamp)
	if err != nil {
		s.logger.Error("Failed to mirror spend record", zap.Error(err))
		return fmt.Errorf("store usage: %w", err)
	}
	return nil
}

// ModelSpend aggregates spend per model over a time range.
type ModelSpend struct {
	Model    string  `db:"model" json:"model"`
	Provider string  `db:"provider" json:"provider"`
	CostUSD  float64 `db:"total_cost" json:"cost_usd"`
	Requests int     `db:"request_count" json:"requests"`
}

// UsageReport holds aggregated spend for a reporting window.
type UsageReport struct {
	StartTime    time.Time    `json:"start_time"`
	EndTime      time.Time    `json:"end_time"`
	TotalCostUSD float64      `json:"total_cost_usd"`
	ByModel      []ModelSpend `json:"by_model"`
}

// Report aggregates usage between start and end, most expensive model first.
func (s *UsageStore) Report(ctx context.Context, start, end time.Time) (*UsageReport, error) {
	if s == nil {
		return nil, fmt.Errorf("usage store not configured")
	}
	report := &UsageReport{StartTime: start, EndTime: end}

	rows := []ModelSpend{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT model, provider,
		       SUM(cost_usd) AS total_cost,
		       COUNT(*) AS request_count
		FROM ralex_usage
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY model, provider
		ORDER BY total_cost DESC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}

	report.ByModel = rows
	for _, r := range rows {
		report.TotalCostUSD += r.CostUSD
	}
	return report, nil
}
