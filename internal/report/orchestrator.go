// Package report sequences a full report generation run: window
// resolution, aggregation, delta computation, insight generation, AI
// enrichment, persistence and the per-client task fan-out.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/insights"
	"github.com/harborview/seo-reporter/internal/metrics"
	"github.com/harborview/seo-reporter/internal/observability"
	"github.com/harborview/seo-reporter/internal/scanner"
	"github.com/harborview/seo-reporter/internal/tasks"
	"github.com/harborview/seo-reporter/internal/util"
)

// Period selects how the report window is derived when explicit dates
// are not supplied.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Request describes one report generation invocation. Explicit dates
// take precedence over the derived period window.
type Request struct {
	SiteID         string
	Period         Period
	StartDate      *time.Time
	EndDate        *time.Time
	IncludeMonthly bool // also aggregate a trailing-30-day comparison (week period only)
}

// Result is the full output bundle for downstream rendering and delivery.
type Result struct {
	Report          *db.WeeklyReport           `json:"report"`
	Site            *db.Site                   `json:"site"`
	Comparison      metrics.ComparisonMetrics  `json:"comparison"`
	Monthly         *metrics.ComparisonMetrics `json:"monthly,omitempty"`
	TopPages        []metrics.TopEntry         `json:"top_pages"`
	TopQueries      []metrics.TopEntry         `json:"top_queries"`
	Findings        []insights.Finding         `json:"findings"`
	Recommendations []string                   `json:"recommendations"`
	AIInsights      *ai.Insights               `json:"ai_insights"`
	TasksCreated    int                        `json:"tasks_created"`
}

// Store defines the database operations the orchestrator needs.
type Store interface {
	GetSite(ctx context.Context, siteID string) (*db.Site, error)
	UpsertWeeklyReport(ctx context.Context, r *db.WeeklyReport) (string, error)
	NotifyReportReady(ctx context.Context, reportID string) error
	ListActiveClients(ctx context.Context) ([]*db.User, error)
	GetPrimarySiteForUser(ctx context.Context, userID string) (*db.Site, error)
}

// Aggregator computes period totals and top-N lists.
type Aggregator interface {
	PeriodMetrics(ctx context.Context, siteID string, start, end time.Time) (metrics.PeriodMetrics, error)
	TopPages(ctx context.Context, siteID string, start, end time.Time, limit int) ([]metrics.TopEntry, error)
	TopQueries(ctx context.Context, siteID string, start, end time.Time, limit int) ([]metrics.TopEntry, error)
}

// InsightAdapter is the AI enrichment surface; it degrades internally
// and never returns an error.
type InsightAdapter interface {
	GenerateInsights(ctx context.Context, rc *ai.ReportContext) *ai.Insights
}

// TaskCreator generates and persists the weekly AI task batch.
type TaskCreator interface {
	CreateAITasksForClient(ctx context.Context, user *db.User, weekStart, weekEnd time.Time, tc *tasks.Context) (int, error)
}

// IssueScanner runs the best-effort technical scan.
type IssueScanner interface {
	Scan(ctx context.Context, siteURL string) (*scanner.TechnicalIssues, error)
}

// Orchestrator runs report generation end to end. scannerSvc, aiAdapter
// and taskGen are optional; a nil value disables that enrichment.
type Orchestrator struct {
	store     Store
	agg       Aggregator
	aiAdapter InsightAdapter
	taskGen   TaskCreator
	scannerSv IssueScanner
}

// New creates an orchestrator.
func New(store Store, agg Aggregator, aiAdapter InsightAdapter, taskGen TaskCreator, scannerSv IssueScanner) *Orchestrator {
	return &Orchestrator{
		store:     store,
		agg:       agg,
		aiAdapter: aiAdapter,
		taskGen:   taskGen,
		scannerSv: scannerSv,
	}
}

// Generate runs one report pass for the request. External enrichments
// (AI, technical scan, per-client task generation) are best-effort:
// their failures are logged and substituted, never propagated. A missing
// site or failing metrics store aborts the run.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	// 1. Resolve site and window.
	site, err := o.store.GetSite(ctx, req.SiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site %s: %w", req.SiteID, err)
	}
	window, prev := resolveWindows(req, time.Now())

	ctx, span := observability.StartReportSpan(ctx, observability.ReportSpanInfo{
		SiteID:      site.ID,
		Period:      string(effectivePeriod(req)),
		PeriodStart: window.Start.Format("2006-01-02"),
		PeriodEnd:   window.End.Format("2006-01-02"),
	})
	succeeded := false
	defer func() {
		observability.RecordReportDuration(ctx, site.ID, time.Since(start), succeeded)
		span.End()
	}()

	log.Info().
		Str("site_id", site.ID).
		Str("period_start", window.Start.Format("2006-01-02")).
		Str("period_end", window.End.Format("2006-01-02")).
		Msg("Starting report generation")

	// 2. Aggregate current and previous periods. Read-only, so the two
	// aggregations run concurrently.
	var curr, previous metrics.PeriodMetrics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var aggErr error
		curr, aggErr = o.agg.PeriodMetrics(gctx, site.ID, window.Start, window.End)
		return aggErr
	})
	g.Go(func() error {
		var aggErr error
		previous, aggErr = o.agg.PeriodMetrics(gctx, site.ID, prev.Start, prev.End)
		return aggErr
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to aggregate period metrics: %w", err)
	}

	// 3. Deltas.
	comparison := metrics.Compare(curr, previous)

	// Optional trailing-30-day comparison alongside a weekly report.
	var monthly *metrics.ComparisonMetrics
	if req.IncludeMonthly && effectivePeriod(req) == PeriodWeek {
		if m, err := o.monthlyComparison(ctx, site.ID); err != nil {
			log.Warn().Err(err).Str("site_id", site.ID).Msg("Monthly comparison failed, omitting from report")
		} else {
			monthly = m
		}
	}

	// 4. Top pages and queries for the current window.
	topPages, err := o.agg.TopPages(ctx, site.ID, window.Start, window.End, metrics.DefaultTopLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to extract top pages: %w", err)
	}
	topQueries, err := o.agg.TopQueries(ctx, site.ID, window.Start, window.End, metrics.DefaultTopLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to extract top queries: %w", err)
	}

	// 5. Rule-based baseline. Pure, cannot fail.
	findings := insights.Findings(comparison)
	recommendations := insights.Recommendations(comparison, topPages, topQueries)

	// 6. AI enrichment. The adapter degrades internally; a nil adapter
	// means enrichment is disabled outright.
	rc := &ai.ReportContext{
		SiteName:    site.Name,
		SiteURL:     site.URL,
		PeriodStart: window.Start.Format("2006-01-02"),
		PeriodEnd:   window.End.Format("2006-01-02"),
		Comparison:  comparison,
		TopPages:    topPages,
		TopQueries:  topQueries,
	}
	var aiInsights *ai.Insights
	if o.aiAdapter != nil {
		aiInsights = o.aiAdapter.GenerateInsights(ctx, rc)
	}

	// 7. Merge baseline and AI text, baseline always first.
	insightsText, recommendationsText := mergeText(findings, recommendations, aiInsights)

	// 8. Upsert the report row by natural key.
	reportRow := &db.WeeklyReport{
		SiteID:            site.ID,
		PeriodStart:       window.Start,
		PeriodEnd:         window.End,
		TotalClicks:       curr.TotalClicks,
		TotalImpressions:  curr.TotalImpressions,
		AverageCtr:        curr.AverageCtr,
		AveragePosition:   curr.AveragePosition,
		ClicksChange:      comparison.ClicksChange,
		ImpressionsChange: comparison.ImpressionsChange,
		CtrChange:         comparison.CtrChange,
		PositionChange:    comparison.PositionChange,
		TopPages:          topPages,
		TopQueries:        topQueries,
		Insights:          insightsText,
		Recommendations:   recommendationsText,
	}
	reportID, err := o.store.UpsertWeeklyReport(ctx, reportRow)
	if err != nil {
		sentry.CaptureException(err)
		return nil, fmt.Errorf("failed to persist report: %w", err)
	}

	if err := o.store.NotifyReportReady(ctx, reportID); err != nil {
		log.Warn().Err(err).Str("report_id", reportID).Msg("Failed to emit report-ready notification")
	}

	// 9. Per-client task fan-out, best effort per client.
	tasksCreated := o.fanOutTasks(ctx, window, comparison, topPages, topQueries, recommendationsText)

	log.Info().
		Str("report_id", reportID).
		Str("site_id", site.ID).
		Int("tasks_created", tasksCreated).
		Dur("duration", time.Since(start)).
		Msg("Report generation completed")

	succeeded = true

	// 10. Full result bundle.
	return &Result{
		Report:          reportRow,
		Site:            site,
		Comparison:      comparison,
		Monthly:         monthly,
		TopPages:        topPages,
		TopQueries:      topQueries,
		Findings:        findings,
		Recommendations: recommendations,
		AIInsights:      aiInsights,
		TasksCreated:    tasksCreated,
	}, nil
}

// monthlyComparison aggregates the trailing-30-day pair.
func (o *Orchestrator) monthlyComparison(ctx context.Context, siteID string) (*metrics.ComparisonMetrics, error) {
	window := util.TrailingMonth(time.Now())
	prev := util.PreviousWindow(window)

	curr, err := o.agg.PeriodMetrics(ctx, siteID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	previous, err := o.agg.PeriodMetrics(ctx, siteID, prev.Start, prev.End)
	if err != nil {
		return nil, err
	}
	c := metrics.Compare(curr, previous)
	return &c, nil
}

// fanOutTasks creates this week's AI task batch for every active client.
// Per-client failures are caught and logged; the loop always finishes.
func (o *Orchestrator) fanOutTasks(ctx context.Context, window util.Window, comparison metrics.ComparisonMetrics, topPages, topQueries []metrics.TopEntry, recommendations string) int {
	if o.taskGen == nil {
		return 0
	}

	clients, err := o.store.ListActiveClients(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list clients for task fan-out")
		return 0
	}

	total := 0
	for _, client := range clients {
		site, err := o.store.GetPrimarySiteForUser(ctx, client.ID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", client.ID).Msg("Client has no primary site, skipping task generation")
			continue
		}

		// Technical issues are advisory context only; a failed scan is
		// treated as "none found".
		issuesNote := ""
		if o.scannerSv != nil {
			if issues, scanErr := o.scannerSv.Scan(ctx, site.URL); scanErr != nil {
				log.Warn().Err(scanErr).Str("site", site.URL).Msg("Technical scan failed, continuing without issues")
			} else if issues.TotalErrors+issues.TotalWarnings > 0 {
				issuesNote = fmt.Sprintf("\nTechnical scan found %d errors and %d warnings.", issues.TotalErrors, issues.TotalWarnings)
			}
		}

		tc := &tasks.Context{
			SiteName:        site.Name,
			SiteURL:         site.URL,
			Comparison:      comparison,
			TopPages:        topPages,
			TopQueries:      topQueries,
			Recommendations: recommendations + issuesNote,
		}
		created, err := o.taskGen.CreateAITasksForClient(ctx, client, window.Start, window.End, tc)
		if err != nil {
			log.Error().Err(err).Str("user_id", client.ID).Msg("Task generation failed for client, continuing fan-out")
			continue
		}
		total += created
	}
	return total
}

// resolveWindows derives the report window and its symmetric
// predecessor. Explicit dates win; otherwise the period type selects the
// last complete ISO week (Monday start) or the trailing 30 days.
func resolveWindows(req Request, now time.Time) (util.Window, util.Window) {
	var window util.Window
	switch {
	case req.StartDate != nil && req.EndDate != nil:
		window = util.Window{Start: *req.StartDate, End: *req.EndDate}
	case effectivePeriod(req) == PeriodMonth:
		window = util.TrailingMonth(now)
	default:
		window = util.LastWeek(now)
	}
	return window, util.PreviousWindow(window)
}

func effectivePeriod(req Request) Period {
	if req.Period == "" {
		return PeriodWeek
	}
	return req.Period
}

// mergeText combines baseline and AI narrative into the two persisted
// text columns. Baseline text always leads; the AI section is appended
// only when enrichment produced something.
func mergeText(findings []insights.Finding, recommendations []string, aiInsights *ai.Insights) (string, string) {
	insightsText := insights.FindingsText(findings)
	recommendationsText := strings.Join(recommendations, "\n")

	if aiInsights != nil {
		var b strings.Builder
		b.WriteString(insightsText)
		b.WriteString("\n\nAI Insights:\n")
		b.WriteString(aiInsights.ExecutiveSummary)
		for _, k := range aiInsights.KeyInsights {
			b.WriteString("\n- ")
			b.WriteString(k)
		}
		insightsText = b.String()

		if len(aiInsights.StrategicRecommendations) > 0 {
			var rb strings.Builder
			rb.WriteString(recommendationsText)
			rb.WriteString("\n\nAI Recommendations:\n")
			rb.WriteString(strings.Join(aiInsights.StrategicRecommendations, "\n"))
			recommendationsText = rb.String()
		}
	}

	return insightsText, recommendationsText
}
