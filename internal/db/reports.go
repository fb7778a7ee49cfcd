package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WeeklyReport is one persisted report per (site, period start, period end)
type WeeklyReport struct {
	ID                string    `json:"id"`
	SiteID            string    `json:"site_id"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	TotalClicks       int       `json:"total_clicks"`
	TotalImpressions  int       `json:"total_impressions"`
	AverageCtr        float64   `json:"average_ctr"`
	AveragePosition   float64   `json:"average_position"`
	ClicksChange      float64   `json:"clicks_change"`
	ImpressionsChange float64   `json:"impressions_change"`
	CtrChange         float64   `json:"ctr_change"`
	PositionChange    float64   `json:"position_change"`
	TopPages          any       `json:"top_pages,omitempty"`
	TopQueries        any       `json:"top_queries,omitempty"`
	Insights          string    `json:"insights"`
	Recommendations   string    `json:"recommendations"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UpsertWeeklyReport inserts or updates the report for its natural key and
// returns the persisted report ID. A rerun for the same (site, start, end)
// updates the existing row in place.
func (d *DB) UpsertWeeklyReport(ctx context.Context, r *WeeklyReport) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	topPages, err := json.Marshal(r.TopPages)
	if err != nil {
		return "", fmt.Errorf("failed to marshal top pages: %w", err)
	}
	topQueries, err := json.Marshal(r.TopQueries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal top queries: %w", err)
	}

	query := `
		INSERT INTO weekly_reports (
			id, site_id, period_start, period_end,
			total_clicks, total_impressions, average_ctr, average_position,
			clicks_change, impressions_change, ctr_change, position_change,
			top_pages, top_queries, insights, recommendations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (site_id, period_start, period_end)
		DO UPDATE SET
			total_clicks = EXCLUDED.total_clicks,
			total_impressions = EXCLUDED.total_impressions,
			average_ctr = EXCLUDED.average_ctr,
			average_position = EXCLUDED.average_position,
			clicks_change = EXCLUDED.clicks_change,
			impressions_change = EXCLUDED.impressions_change,
			ctr_change = EXCLUDED.ctr_change,
			position_change = EXCLUDED.position_change,
			top_pages = EXCLUDED.top_pages,
			top_queries = EXCLUDED.top_queries,
			insights = EXCLUDED.insights,
			recommendations = EXCLUDED.recommendations,
			updated_at = NOW()
		RETURNING id
	`

	var id string
	err = d.client.QueryRowContext(ctx, query,
		r.ID, r.SiteID, r.PeriodStart, r.PeriodEnd,
		r.TotalClicks, r.TotalImpressions, r.AverageCtr, r.AveragePosition,
		r.ClicksChange, r.ImpressionsChange, r.CtrChange, r.PositionChange,
		topPages, topQueries, r.Insights, r.Recommendations,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert weekly report: %w", err)
	}

	r.ID = id
	log.Info().
		Str("report_id", id).
		Str("site_id", r.SiteID).
		Str("period_start", r.PeriodStart.Format("2006-01-02")).
		Str("period_end", r.PeriodEnd.Format("2006-01-02")).
		Msg("Weekly report upserted")
	return id, nil
}

// GetWeeklyReport retrieves a report by ID
func (d *DB) GetWeeklyReport(ctx context.Context, reportID string) (*WeeklyReport, error) {
	query := `
		SELECT id, site_id, period_start, period_end,
			total_clicks, total_impressions, average_ctr, average_position,
			clicks_change, impressions_change, ctr_change, position_change,
			COALESCE(top_pages, 'null'::jsonb), COALESCE(top_queries, 'null'::jsonb),
			COALESCE(insights, ''), COALESCE(recommendations, ''),
			created_at, updated_at
		FROM weekly_reports
		WHERE id = $1
	`

	r := &WeeklyReport{}
	var topPages, topQueries []byte
	err := d.client.QueryRowContext(ctx, query, reportID).Scan(
		&r.ID, &r.SiteID, &r.PeriodStart, &r.PeriodEnd,
		&r.TotalClicks, &r.TotalImpressions, &r.AverageCtr, &r.AveragePosition,
		&r.ClicksChange, &r.ImpressionsChange, &r.CtrChange, &r.PositionChange,
		&topPages, &topQueries, &r.Insights, &r.Recommendations,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("report not found")
		}
		return nil, fmt.Errorf("failed to get weekly report: %w", err)
	}

	if err := json.Unmarshal(topPages, &r.TopPages); err != nil {
		return nil, fmt.Errorf("malformed top_pages JSON on report %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(topQueries, &r.TopQueries); err != nil {
		return nil, fmt.Errorf("malformed top_queries JSON on report %s: %w", r.ID, err)
	}
	return r, nil
}

// GetLatestReportForSite returns the most recent report by period end.
func (d *DB) GetLatestReportForSite(ctx context.Context, siteID string) (*WeeklyReport, error) {
	var id string
	err := d.client.QueryRowContext(ctx, `
		SELECT id FROM weekly_reports
		WHERE site_id = $1
		ORDER BY period_end DESC, updated_at DESC
		LIMIT 1
	`, siteID).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no reports for site %s", siteID)
		}
		return nil, fmt.Errorf("failed to find latest report: %w", err)
	}
	return d.GetWeeklyReport(ctx, id)
}

// NotifyReportReady emits a Postgres notification so out-of-band delivery
// (email, Slack) can pick the report up without polling.
func (d *DB) NotifyReportReady(ctx context.Context, reportID string) error {
	if _, err := d.client.ExecContext(ctx, `SELECT pg_notify('report_ready', $1)`, reportID); err != nil {
		return fmt.Errorf("failed to notify report ready: %w", err)
	}
	return nil
}
