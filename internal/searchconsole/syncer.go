package searchconsole

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/metrics"
	"github.com/harborview/seo-reporter/internal/observability"
)

// Fetcher is the client surface the syncer consumes.
type Fetcher interface {
	FetchDaily(ctx context.Context, siteURL string, start, end time.Time) ([]Row, error)
	FetchPages(ctx context.Context, siteURL string, start, end time.Time) ([]Row, error)
	FetchQueries(ctx context.Context, siteURL string, start, end time.Time) ([]Row, error)
}

// MetricsStore defines the upsert operations the syncer needs.
type MetricsStore interface {
	UpsertDailyMetric(ctx context.Context, m *metrics.DailyMetric) error
	UpsertPageMetric(ctx context.Context, m *metrics.PageMetric) error
	UpsertQueryMetric(ctx context.Context, m *metrics.QueryMetric) error
	RecordAPIUsage(ctx context.Context, u *db.APIUsage) error
}

// Syncer pulls Search Console rows for a range and upserts them into the
// metrics store by natural key.
type Syncer struct {
	client Fetcher
	store  MetricsStore
}

// NewSyncer creates a syncer.
func NewSyncer(client Fetcher, store MetricsStore) *Syncer {
	return &Syncer{client: client, store: store}
}

// SyncRange fetches daily, page and query rows for [start,end] and
// upserts them for the site. Individual row upsert failures are logged
// and skipped; fetch failures abort the sync.
func (s *Syncer) SyncRange(ctx context.Context, site *db.Site, start, end time.Time) error {
	startTime := time.Now()

	daily, err := s.fetch(ctx, "searchAnalytics/query:date", func() ([]Row, error) {
		return s.client.FetchDaily(ctx, site.URL, start, end)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch daily rows: %w", err)
	}
	for _, row := range daily {
		date, ok := parseRowDate(row, 0)
		if !ok {
			continue
		}
		m := &metrics.DailyMetric{
			SiteID:      site.ID,
			Date:        date,
			Clicks:      int(row.Clicks),
			Impressions: int(row.Impressions),
			CTR:         row.CTR,
			Position:    row.Position,
		}
		if err := s.store.UpsertDailyMetric(ctx, m); err != nil {
			log.Error().Err(err).Str("site_id", site.ID).Str("date", date.Format("2006-01-02")).Msg("Failed to upsert daily metric")
		}
	}

	pages, err := s.fetch(ctx, "searchAnalytics/query:page", func() ([]Row, error) {
		return s.client.FetchPages(ctx, site.URL, start, end)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch page rows: %w", err)
	}
	for _, row := range pages {
		date, ok := parseRowDate(row, 0)
		if !ok || len(row.Keys) < 2 {
			continue
		}
		m := &metrics.PageMetric{
			SiteID:      site.ID,
			Date:        date,
			Page:        row.Keys[1],
			Clicks:      int(row.Clicks),
			Impressions: int(row.Impressions),
			CTR:         row.CTR,
			Position:    row.Position,
		}
		if err := s.store.UpsertPageMetric(ctx, m); err != nil {
			log.Error().Err(err).Str("site_id", site.ID).Str("page", m.Page).Msg("Failed to upsert page metric")
		}
	}

	queries, err := s.fetch(ctx, "searchAnalytics/query:query", func() ([]Row, error) {
		return s.client.FetchQueries(ctx, site.URL, start, end)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch query rows: %w", err)
	}
	for _, row := range queries {
		date, ok := parseRowDate(row, 0)
		if !ok || len(row.Keys) < 2 {
			continue
		}
		m := &metrics.QueryMetric{
			SiteID:      site.ID,
			Date:        date,
			Query:       row.Keys[1],
			Clicks:      int(row.Clicks),
			Impressions: int(row.Impressions),
			CTR:         row.CTR,
			Position:    row.Position,
		}
		if err := s.store.UpsertQueryMetric(ctx, m); err != nil {
			log.Error().Err(err).Str("site_id", site.ID).Str("query", m.Query).Msg("Failed to upsert query metric")
		}
	}

	log.Info().
		Str("site_id", site.ID).
		Int("daily_rows", len(daily)).
		Int("page_rows", len(pages)).
		Int("query_rows", len(queries)).
		Dur("duration", time.Since(startTime)).
		Msg("Search Console sync completed")
	return nil
}

// fetch wraps a client call with call counting and usage auditing.
// Neither write changes the fetch result.
func (s *Syncer) fetch(ctx context.Context, endpoint string, call func() ([]Row, error)) ([]Row, error) {
	rows, err := call()
	observability.RecordAPICall(ctx, db.ProviderGoogle, err == nil)

	u := &db.APIUsage{
		Provider: db.ProviderGoogle,
		Endpoint: endpoint,
		Success:  err == nil,
	}
	if err != nil {
		u.Error = err.Error()
	}
	if recordErr := s.store.RecordAPIUsage(ctx, u); recordErr != nil {
		log.Warn().Err(recordErr).Msg("Failed to record API usage")
	}

	return rows, err
}

// parseRowDate reads the date dimension at the given key index.
func parseRowDate(row Row, idx int) (time.Time, bool) {
	if len(row.Keys) <= idx {
		return time.Time{}, false
	}
	date, err := time.Parse("2006-01-02", row.Keys[idx])
	if err != nil {
		log.Warn().Str("value", row.Keys[idx]).Msg("Skipping row with unparseable date key")
		return time.Time{}, false
	}
	return date, true
}
