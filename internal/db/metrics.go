package db

import (
	"context"
	"fmt"
	"time"

	"github.com/harborview/seo-reporter/internal/metrics"
)

// UpsertDailyMetric inserts or updates the metric row for (site, date)
func (d *DB) UpsertDailyMetric(ctx context.Context, m *metrics.DailyMetric) error {
	query := `
		INSERT INTO daily_metrics (site_id, date, clicks, impressions, ctr, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (site_id, date)
		DO UPDATE SET clicks = EXCLUDED.clicks, impressions = EXCLUDED.impressions,
			ctr = EXCLUDED.ctr, position = EXCLUDED.position, updated_at = NOW()
	`
	if _, err := d.client.ExecContext(ctx, query, m.SiteID, m.Date, m.Clicks, m.Impressions, m.CTR, m.Position); err != nil {
		return fmt.Errorf("failed to upsert daily metric: %w", err)
	}
	return nil
}

// UpsertPageMetric inserts or updates the metric row for (site, date, page)
func (d *DB) UpsertPageMetric(ctx context.Context, m *metrics.PageMetric) error {
	query := `
		INSERT INTO page_metrics (site_id, date, page, clicks, impressions, ctr, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_id, date, page)
		DO UPDATE SET clicks = EXCLUDED.clicks, impressions = EXCLUDED.impressions,
			ctr = EXCLUDED.ctr, position = EXCLUDED.position, updated_at = NOW()
	`
	if _, err := d.client.ExecContext(ctx, query, m.SiteID, m.Date, m.Page, m.Clicks, m.Impressions, m.CTR, m.Position); err != nil {
		return fmt.Errorf("failed to upsert page metric: %w", err)
	}
	return nil
}

// UpsertQueryMetric inserts or updates the metric row for (site, date, query)
func (d *DB) UpsertQueryMetric(ctx context.Context, m *metrics.QueryMetric) error {
	query := `
		INSERT INTO query_metrics (site_id, date, query, clicks, impressions, ctr, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_id, date, query)
		DO UPDATE SET clicks = EXCLUDED.clicks, impressions = EXCLUDED.impressions,
			ctr = EXCLUDED.ctr, position = EXCLUDED.position, updated_at = NOW()
	`
	if _, err := d.client.ExecContext(ctx, query, m.SiteID, m.Date, m.Query, m.Clicks, m.Impressions, m.CTR, m.Position); err != nil {
		return fmt.Errorf("failed to upsert query metric: %w", err)
	}
	return nil
}

// DailyMetricsRange returns the daily rows for a site within [start,end],
// ordered by date ascending. An empty result is valid.
func (d *DB) DailyMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]metrics.DailyMetric, error) {
	query := `
		SELECT site_id, date, clicks, impressions, ctr, position
		FROM daily_metrics
		WHERE site_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`
	rows, err := d.client.QueryContext(ctx, query, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	var out []metrics.DailyMetric
	for rows.Next() {
		var m metrics.DailyMetric
		if err := rows.Scan(&m.SiteID, &m.Date, &m.Clicks, &m.Impressions, &m.CTR, &m.Position); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PageMetricsRange returns the per-page rows for a site within [start,end]
func (d *DB) PageMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]metrics.PageMetric, error) {
	query := `
		SELECT site_id, date, page, clicks, impressions, ctr, position
		FROM page_metrics
		WHERE site_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC, id ASC
	`
	rows, err := d.client.QueryContext(ctx, query, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query page metrics: %w", err)
	}
	defer rows.Close()

	var out []metrics.PageMetric
	for rows.Next() {
		var m metrics.PageMetric
		if err := rows.Scan(&m.SiteID, &m.Date, &m.Page, &m.Clicks, &m.Impressions, &m.CTR, &m.Position); err != nil {
			return nil, fmt.Errorf("failed to scan page metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// QueryMetricsRange returns the per-query rows for a site within [start,end]
func (d *DB) QueryMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]metrics.QueryMetric, error) {
	query := `
		SELECT site_id, date, query, clicks, impressions, ctr, position
		FROM query_metrics
		WHERE site_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC, id ASC
	`
	rows, err := d.client.QueryContext(ctx, query, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query query metrics: %w", err)
	}
	defer rows.Close()

	var out []metrics.QueryMetric
	for rows.Next() {
		var m metrics.QueryMetric
		if err := rows.Scan(&m.SiteID, &m.Date, &m.Query, &m.Clicks, &m.Impressions, &m.CTR, &m.Position); err != nil {
			return nil, fmt.Errorf("failed to scan query metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
