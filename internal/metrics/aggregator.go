package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTopLimit is the number of top pages/queries returned when the
// caller does not supply a limit.
const DefaultTopLimit = 10

// Store defines the database operations needed by the aggregator.
type Store interface {
	DailyMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]DailyMetric, error)
	PageMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]PageMetric, error)
	QueryMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]QueryMetric, error)
}

// Aggregator computes period totals and top-N extractions from stored
// metric rows.
type Aggregator struct {
	store Store
}

// NewAggregator creates an aggregator backed by the given store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// PeriodMetrics returns the totals for [start,end]. An empty range
// returns the zero value, not an error.
func (a *Aggregator) PeriodMetrics(ctx context.Context, siteID string, start, end time.Time) (PeriodMetrics, error) {
	rows, err := a.store.DailyMetricsRange(ctx, siteID, start, end)
	if err != nil {
		return PeriodMetrics{}, fmt.Errorf("failed to load daily metrics: %w", err)
	}

	pm := AggregateDaily(rows)
	log.Debug().
		Str("site_id", siteID).
		Str("start", start.Format("2006-01-02")).
		Str("end", end.Format("2006-01-02")).
		Int("rows", len(rows)).
		Int("total_clicks", pm.TotalClicks).
		Msg("Aggregated period metrics")
	return pm, nil
}

// TopPages returns the top pages in [start,end] by summed clicks.
// A limit <= 0 falls back to DefaultTopLimit.
func (a *Aggregator) TopPages(ctx context.Context, siteID string, start, end time.Time, limit int) ([]TopEntry, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	rows, err := a.store.PageMetricsRange(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load page metrics: %w", err)
	}
	return TopPages(rows, limit), nil
}

// TopQueries returns the top queries in [start,end] by summed clicks.
// A limit <= 0 falls back to DefaultTopLimit.
func (a *Aggregator) TopQueries(ctx context.Context, siteID string, start, end time.Time, limit int) ([]TopEntry, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	rows, err := a.store.QueryMetricsRange(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load query metrics: %w", err)
	}
	return TopQueries(rows, limit), nil
}
