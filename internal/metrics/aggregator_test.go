package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	daily   []DailyMetric
	pages   []PageMetric
	queries []QueryMetric
	err     error

	lastLimitlessStart time.Time
	lastLimitlessEnd   time.Time
}

func (f *fakeStore) DailyMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]DailyMetric, error) {
	f.lastLimitlessStart, f.lastLimitlessEnd = start, end
	return f.daily, f.err
}

func (f *fakeStore) PageMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]PageMetric, error) {
	return f.pages, f.err
}

func (f *fakeStore) QueryMetricsRange(ctx context.Context, siteID string, start, end time.Time) ([]QueryMetric, error) {
	return f.queries, f.err
}

func TestAggregatorPeriodMetrics(t *testing.T) {
	t.Parallel()

	store := &fakeStore{daily: []DailyMetric{
		{Date: day(2), Clicks: 5, Impressions: 100, CTR: 0.05, Position: 10},
		{Date: day(3), Clicks: 15, Impressions: 300, CTR: 0.05, Position: 8},
	}}
	agg := NewAggregator(store)

	pm, err := agg.PeriodMetrics(context.Background(), "site-1", day(2), day(8))
	require.NoError(t, err)
	assert.Equal(t, 20, pm.TotalClicks)
	assert.Equal(t, 400, pm.TotalImpressions)
	assert.Equal(t, day(2), store.lastLimitlessStart)
	assert.Equal(t, day(8), store.lastLimitlessEnd)
}

func TestAggregatorPeriodMetricsEmptyRange(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(&fakeStore{})
	pm, err := agg.PeriodMetrics(context.Background(), "site-1", day(2), day(8))
	require.NoError(t, err)
	assert.Equal(t, PeriodMetrics{}, pm)
}

func TestAggregatorStoreError(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(&fakeStore{err: errors.New("connection refused")})
	_, err := agg.PeriodMetrics(context.Background(), "site-1", day(2), day(8))
	assert.ErrorContains(t, err, "failed to load daily metrics")

	_, err = agg.TopPages(context.Background(), "site-1", day(2), day(8), 10)
	assert.ErrorContains(t, err, "failed to load page metrics")
}

func TestAggregatorTopDefaultsLimit(t *testing.T) {
	t.Parallel()

	pages := make([]PageMetric, 0, 12)
	for i := 0; i < 12; i++ {
		pages = append(pages, PageMetric{Page: string(rune('a' + i)), Clicks: 50 - i})
	}
	agg := NewAggregator(&fakeStore{pages: pages})

	top, err := agg.TopPages(context.Background(), "site-1", day(2), day(8), 0)
	require.NoError(t, err)
	assert.Len(t, top, DefaultTopLimit)
}
