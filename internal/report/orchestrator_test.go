package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/metrics"
	"github.com/harborview/seo-reporter/internal/scanner"
	"github.com/harborview/seo-reporter/internal/tasks"
	"github.com/harborview/seo-reporter/internal/util"
)

type fakeStore struct {
	site       *db.Site
	siteErr    error
	upserted   *db.WeeklyReport
	upsertErr  error
	notifiedID string
	notifyErr  error
	clients    []*db.User
	clientsErr error
	primary    map[string]*db.Site
}

func (f *fakeStore) GetSite(_ context.Context, siteID string) (*db.Site, error) {
	if f.siteErr != nil {
		return nil, f.siteErr
	}
	return f.site, nil
}

func (f *fakeStore) UpsertWeeklyReport(_ context.Context, r *db.WeeklyReport) (string, error) {
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	f.upserted = r
	return "report-1", nil
}

func (f *fakeStore) NotifyReportReady(_ context.Context, reportID string) error {
	f.notifiedID = reportID
	return f.notifyErr
}

func (f *fakeStore) ListActiveClients(_ context.Context) ([]*db.User, error) {
	return f.clients, f.clientsErr
}

func (f *fakeStore) GetPrimarySiteForUser(_ context.Context, userID string) (*db.Site, error) {
	site, ok := f.primary[userID]
	if !ok {
		return nil, errors.New("no primary site")
	}
	return site, nil
}

type fakeAggregator struct {
	byRange map[string]metrics.PeriodMetrics
	err     error
	pages   []metrics.TopEntry
	queries []metrics.TopEntry
}

func rangeKey(start, end time.Time) string {
	return start.Format("2006-01-02") + "/" + end.Format("2006-01-02")
}

func (f *fakeAggregator) PeriodMetrics(_ context.Context, _ string, start, end time.Time) (metrics.PeriodMetrics, error) {
	if f.err != nil {
		return metrics.PeriodMetrics{}, f.err
	}
	return f.byRange[rangeKey(start, end)], nil
}

func (f *fakeAggregator) TopPages(_ context.Context, _ string, _, _ time.Time, _ int) ([]metrics.TopEntry, error) {
	return f.pages, nil
}

func (f *fakeAggregator) TopQueries(_ context.Context, _ string, _, _ time.Time, _ int) ([]metrics.TopEntry, error) {
	return f.queries, nil
}

type fakeInsightAdapter struct {
	insights *ai.Insights
	calls    int
}

func (f *fakeInsightAdapter) GenerateInsights(_ context.Context, _ *ai.ReportContext) *ai.Insights {
	f.calls++
	return f.insights
}

type fakeTaskCreator struct {
	created map[string]int
	errFor  map[string]error
	calls   []string
}

func (f *fakeTaskCreator) CreateAITasksForClient(_ context.Context, user *db.User, _, _ time.Time, _ *tasks.Context) (int, error) {
	f.calls = append(f.calls, user.ID)
	if err := f.errFor[user.ID]; err != nil {
		return 0, err
	}
	return f.created[user.ID], nil
}

type fakeScanner struct {
	issues *scanner.TechnicalIssues
	err    error
}

func (f *fakeScanner) Scan(_ context.Context, _ string) (*scanner.TechnicalIssues, error) {
	return f.issues, f.err
}

func testSite() *db.Site {
	return &db.Site{ID: "site-1", Name: "Harborview", URL: "https://harborview.example.com"}
}

func TestGenerateHappyPath(t *testing.T) {
	t.Parallel()

	now := time.Now()
	window := util.LastWeek(now)
	prev := util.PreviousWindow(window)

	store := &fakeStore{site: testSite()}
	agg := &fakeAggregator{
		byRange: map[string]metrics.PeriodMetrics{
			rangeKey(window.Start, window.End): {TotalClicks: 100, TotalImpressions: 2000, AverageCtr: 5.0, AveragePosition: 8.0},
			rangeKey(prev.Start, prev.End):     {TotalClicks: 80, TotalImpressions: 2000, AverageCtr: 4.0, AveragePosition: 9.0},
		},
		pages:   []metrics.TopEntry{{Key: "/pricing", Clicks: 40}},
		queries: []metrics.TopEntry{{Key: "harbor tours", Clicks: 25}},
	}

	o := New(store, agg, nil, nil, nil)
	result, err := o.Generate(context.Background(), Request{SiteID: "site-1"})
	require.NoError(t, err)

	assert.Equal(t, 25.0, result.Comparison.ClicksChange)
	assert.Equal(t, -1.0, result.Comparison.PositionChange)
	assert.Len(t, result.TopPages, 1)
	assert.Nil(t, result.AIInsights)
	assert.Zero(t, result.TasksCreated)

	require.NotNil(t, store.upserted)
	assert.Equal(t, 100, store.upserted.TotalClicks)
	assert.Equal(t, window.Start, store.upserted.PeriodStart)
	assert.Equal(t, "report-1", store.notifiedID)
}

func TestGenerateSiteNotFound(t *testing.T) {
	t.Parallel()

	store := &fakeStore{siteErr: errors.New("site not found")}
	o := New(store, &fakeAggregator{}, nil, nil, nil)

	_, err := o.Generate(context.Background(), Request{SiteID: "missing"})
	assert.ErrorContains(t, err, "failed to resolve site")
}

func TestGenerateAggregationFailureAborts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{site: testSite()}
	agg := &fakeAggregator{err: errors.New("db down")}
	o := New(store, agg, nil, nil, nil)

	_, err := o.Generate(context.Background(), Request{SiteID: "site-1"})
	assert.ErrorContains(t, err, "failed to aggregate period metrics")
	assert.Nil(t, store.upserted, "nothing should be persisted after an aggregation failure")
}

func TestGenerateExplicitDatesWin(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)

	store := &fakeStore{site: testSite()}
	agg := &fakeAggregator{byRange: map[string]metrics.PeriodMetrics{}}
	o := New(store, agg, nil, nil, nil)

	_, err := o.Generate(context.Background(), Request{
		SiteID:    "site-1",
		Period:    PeriodMonth,
		StartDate: &start,
		EndDate:   &end,
	})
	require.NoError(t, err)
	assert.Equal(t, start, store.upserted.PeriodStart)
	assert.Equal(t, end, store.upserted.PeriodEnd)
}

func TestGenerateMergesAIText(t *testing.T) {
	t.Parallel()

	now := time.Now()
	window := util.LastWeek(now)
	prev := util.PreviousWindow(window)

	store := &fakeStore{site: testSite()}
	agg := &fakeAggregator{
		byRange: map[string]metrics.PeriodMetrics{
			rangeKey(window.Start, window.End): {TotalClicks: 50, TotalImpressions: 1000, AverageCtr: 5.0, AveragePosition: 8.0},
			rangeKey(prev.Start, prev.End):     {TotalClicks: 100, TotalImpressions: 1000, AverageCtr: 10.0, AveragePosition: 8.0},
		},
	}
	adapter := &fakeInsightAdapter{insights: &ai.Insights{
		ExecutiveSummary:         "Traffic halved week over week.",
		KeyInsights:              []string{"Clicks fell sharply"},
		StrategicRecommendations: []string{"Audit recent template changes"},
	}}

	o := New(store, agg, adapter, nil, nil)
	result, err := o.Generate(context.Background(), Request{SiteID: "site-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.calls)
	require.NotNil(t, result.AIInsights)

	// Baseline text leads, AI sections follow.
	assert.Contains(t, store.upserted.Insights, "[CRITICAL]")
	assert.Contains(t, store.upserted.Insights, "AI Insights:\nTraffic halved week over week.")
	assert.Less(t,
		strings.Index(store.upserted.Insights, "[CRITICAL]"),
		strings.Index(store.upserted.Insights, "AI Insights:"))
	assert.Contains(t, store.upserted.Recommendations, "AI Recommendations:\nAudit recent template changes")
}

func TestGenerateNotifyFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	store := &fakeStore{site: testSite(), notifyErr: errors.New("listen/notify unavailable")}
	agg := &fakeAggregator{byRange: map[string]metrics.PeriodMetrics{}}
	o := New(store, agg, nil, nil, nil)

	result, err := o.Generate(context.Background(), Request{SiteID: "site-1"})
	require.NoError(t, err)
	assert.NotNil(t, result.Report)
}

func TestGenerateFanOutToleratesClientFailures(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		site: testSite(),
		clients: []*db.User{
			{ID: "client-a"},
			{ID: "client-b"},
			{ID: "client-c"},
		},
		primary: map[string]*db.Site{
			"client-a": {ID: "site-a", URL: "https://a.example.com"},
			"client-c": {ID: "site-c", URL: "https://c.example.com"},
			// client-b has no primary site and is skipped.
		},
	}
	agg := &fakeAggregator{byRange: map[string]metrics.PeriodMetrics{}}
	gen := &fakeTaskCreator{
		created: map[string]int{"client-a": 3, "client-c": 2},
		errFor:  map[string]error{"client-c": errors.New("model unavailable")},
	}

	o := New(store, agg, nil, gen, nil)
	result, err := o.Generate(context.Background(), Request{SiteID: "site-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"client-a", "client-c"}, gen.calls)
	assert.Equal(t, 3, result.TasksCreated)
}

func TestGenerateScannerFailureIsAdvisoryOnly(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		site:    testSite(),
		clients: []*db.User{{ID: "client-a"}},
		primary: map[string]*db.Site{"client-a": {ID: "site-a", URL: "https://a.example.com"}},
	}
	agg := &fakeAggregator{byRange: map[string]metrics.PeriodMetrics{}}
	gen := &fakeTaskCreator{created: map[string]int{"client-a": 1}}
	scan := &fakeScanner{err: errors.New("timeout")}

	o := New(store, agg, nil, gen, scan)
	result, err := o.Generate(context.Background(), Request{SiteID: "site-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TasksCreated)
}

func TestGenerateIncludeMonthly(t *testing.T) {
	t.Parallel()

	now := time.Now()
	week := util.LastWeek(now)
	weekPrev := util.PreviousWindow(week)
	month := util.TrailingMonth(now)
	monthPrev := util.PreviousWindow(month)

	store := &fakeStore{site: testSite()}
	agg := &fakeAggregator{
		byRange: map[string]metrics.PeriodMetrics{
			rangeKey(week.Start, week.End):           {TotalClicks: 100},
			rangeKey(weekPrev.Start, weekPrev.End):   {TotalClicks: 80},
			rangeKey(month.Start, month.End):         {TotalClicks: 500},
			rangeKey(monthPrev.Start, monthPrev.End): {TotalClicks: 400},
		},
	}

	o := New(store, agg, nil, nil, nil)
	result, err := o.Generate(context.Background(), Request{SiteID: "site-1", IncludeMonthly: true})
	require.NoError(t, err)
	require.NotNil(t, result.Monthly)
	assert.Equal(t, 25.0, result.Monthly.ClicksChange)
}

func TestResolveWindows(t *testing.T) {
	t.Parallel()

	// A Wednesday.
	now := time.Date(2025, 6, 11, 15, 0, 0, 0, time.UTC)

	t.Run("default_week", func(t *testing.T) {
		window, prev := resolveWindows(Request{}, now)
		assert.Equal(t, time.Monday, window.Start.Weekday())
		assert.Equal(t, 7, window.Days())
		assert.Equal(t, 7, prev.Days())
		assert.True(t, prev.End.Before(window.Start))
	})

	t.Run("month", func(t *testing.T) {
		window, prev := resolveWindows(Request{Period: PeriodMonth}, now)
		assert.Equal(t, 30, window.Days())
		assert.Equal(t, 30, prev.Days())
	})

	t.Run("explicit_dates", func(t *testing.T) {
		start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
		window, prev := resolveWindows(Request{StartDate: &start, EndDate: &end}, now)
		assert.Equal(t, start, window.Start)
		assert.Equal(t, end, window.End)
		assert.Equal(t, window.Days(), prev.Days())
	})
}
