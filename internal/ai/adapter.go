package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/insights"
	"github.com/harborview/seo-reporter/internal/metrics"
	"github.com/harborview/seo-reporter/internal/observability"
)

// Insights is the structured narrative produced for one report. Produced
// once per generation and never mutated afterward.
type Insights struct {
	ExecutiveSummary         string   `json:"executiveSummary"`
	MarketContext            string   `json:"marketContext"`
	KeyInsights              []string `json:"keyInsights"`
	UrgentActions            []string `json:"urgentActions"`
	StrategicRecommendations []string `json:"strategicRecommendations"`
	IndustryTrends           string   `json:"industryTrends"`
	Wins                     []string `json:"wins,omitempty"`
	Awareness                []string `json:"awareness,omitempty"`
	NextSteps                []string `json:"nextSteps,omitempty"`
}

// ReportContext carries everything the adapter is allowed to show the
// model: the aggregated numbers and nothing else.
type ReportContext struct {
	SiteName    string
	SiteURL     string
	PeriodStart string
	PeriodEnd   string
	Comparison  metrics.ComparisonMetrics
	TopPages    []metrics.TopEntry
	TopQueries  []metrics.TopEntry
}

// Completer is the completion interface the adapter consumes.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (*Completion, error)
	Enabled() bool
}

// UsageRecorder persists one audit row per outbound completion call.
type UsageRecorder interface {
	RecordAPIUsage(ctx context.Context, u *db.APIUsage) error
}

// Adapter enriches rule-based output with LLM narrative. Every public
// method degrades to baseline output instead of returning an error.
type Adapter struct {
	client Completer
	usage  UsageRecorder
}

// NewAdapter creates an insight adapter. usage may be nil, in which case
// no audit rows are written.
func NewAdapter(client Completer, usage UsageRecorder) *Adapter {
	return &Adapter{client: client, usage: usage}
}

const insightsSystemPrompt = `You are an SEO analyst writing for property-management business owners.
Use ONLY the numeric facts supplied in the user message. Never invent metrics and never reference pages or queries that are not in the supplied lists.
Frame results optimistically: lead with wins, present challenges as opportunities.
Respond with a single JSON object using exactly these keys: executiveSummary, marketContext, keyInsights (array), urgentActions (array), strategicRecommendations (array), industryTrends, and optionally wins (array), awareness (array), nextSteps (array).`

// GenerateInsights produces the full structured narrative for a report.
// Any network, auth or parse failure degrades to a baseline-derived
// Insights value; the error is logged, never returned.
func (a *Adapter) GenerateInsights(ctx context.Context, rc *ReportContext) *Insights {
	if !a.client.Enabled() {
		log.Info().Str("site", rc.SiteName).Msg("AI insights disabled, using rule-based baseline")
		return a.fallbackInsights(rc)
	}

	completion, err := a.client.Complete(ctx, insightsSystemPrompt, buildInsightsPrompt(rc), 0.7, 1200)
	a.recordUsage(ctx, "chat/completions", completion, err)
	if err != nil {
		log.Warn().Err(err).Str("site", rc.SiteName).Msg("AI insight generation failed, using rule-based baseline")
		return a.fallbackInsights(rc)
	}

	ins, degraded := parseInsights(completion.Text)
	if degraded {
		log.Warn().Str("site", rc.SiteName).Msg("AI response was not valid JSON, classified lines heuristically")
	}
	applyDefaults(ins)
	return ins
}

const summarySystemPrompt = `You are an SEO analyst. Write 2-3 plain sentences summarising the supplied search metrics for a business owner.
Use ONLY the numbers supplied. No headings, no lists, no markdown.`

// GenerateSummary produces the short free-text dashboard summary under
// the same supplied-numbers-only constraint. Failures degrade to the
// rule-based summary text.
func (a *Adapter) GenerateSummary(ctx context.Context, rc *ReportContext) string {
	if !a.client.Enabled() {
		return insights.Summary(rc.Comparison)
	}

	completion, err := a.client.Complete(ctx, summarySystemPrompt, buildMetricsBlock(rc), 0.5, 220)
	a.recordUsage(ctx, "chat/completions", completion, err)
	if err != nil {
		log.Warn().Err(err).Str("site", rc.SiteName).Msg("AI summary generation failed, using rule-based summary")
		return insights.Summary(rc.Comparison)
	}
	return strings.TrimSpace(completion.Text)
}

// fallbackInsights builds an Insights value from the rule engine so the
// shape stays identical whether or not the model was reachable.
func (a *Adapter) fallbackInsights(rc *ReportContext) *Insights {
	findings := insights.Findings(rc.Comparison)
	ins := &Insights{
		ExecutiveSummary:         insights.Summary(rc.Comparison),
		StrategicRecommendations: insights.Recommendations(rc.Comparison, rc.TopPages, rc.TopQueries),
	}
	for _, f := range findings {
		switch f.Severity {
		case insights.SeverityCritical:
			ins.UrgentActions = append(ins.UrgentActions, f.Message)
		case insights.SeverityPositive:
			ins.Wins = append(ins.Wins, f.Message)
		default:
			ins.KeyInsights = append(ins.KeyInsights, f.Message)
		}
	}
	applyDefaults(ins)
	return ins
}

// recordUsage counts the call and writes one audit row. Recording is
// best effort and never affects the value returned to the caller.
func (a *Adapter) recordUsage(ctx context.Context, endpoint string, completion *Completion, callErr error) {
	observability.RecordAPICall(ctx, db.ProviderOpenAI, callErr == nil)

	if a.usage == nil {
		return
	}

	u := &db.APIUsage{
		Provider: db.ProviderOpenAI,
		Endpoint: endpoint,
		Success:  callErr == nil,
	}
	if completion != nil {
		u.TokensUsed = completion.TokensUsed
		u.CostEstimate = float64(completion.TokensUsed) * costPerToken
	}
	if callErr != nil {
		u.Error = callErr.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.usage.RecordAPIUsage(writeCtx, u); err != nil {
		log.Warn().Err(err).Msg("Failed to record API usage")
	}
}

// buildMetricsBlock renders the numbers the model is allowed to use.
func buildMetricsBlock(rc *ReportContext) string {
	c := rc.Comparison
	var b strings.Builder
	fmt.Fprintf(&b, "Site: %s (%s)\nPeriod: %s to %s\n\n", rc.SiteName, rc.SiteURL, rc.PeriodStart, rc.PeriodEnd)
	fmt.Fprintf(&b, "Clicks: %d (%+.1f%% vs previous period)\n", c.Current.TotalClicks, c.ClicksChange)
	fmt.Fprintf(&b, "Impressions: %d (%+.1f%% vs previous period)\n", c.Current.TotalImpressions, c.ImpressionsChange)
	fmt.Fprintf(&b, "Average CTR: %.2f%% (%+.1f%% vs previous period)\n", c.Current.AverageCtr*100, c.CtrChange)
	fmt.Fprintf(&b, "Average position: %.1f (%+.1f places vs previous period, lower is better)\n", c.Current.AveragePosition, c.PositionChange)
	return b.String()
}

// buildInsightsPrompt renders the full user prompt including the top-N
// lists the model may reference.
func buildInsightsPrompt(rc *ReportContext) string {
	var b strings.Builder
	b.WriteString(buildMetricsBlock(rc))

	if len(rc.TopPages) > 0 {
		b.WriteString("\nTop pages (summed clicks, impressions, avg CTR, avg position):\n")
		for _, p := range rc.TopPages {
			fmt.Fprintf(&b, "- %s: %d clicks, %d impressions, %.2f%% CTR, position %.1f\n", p.Key, p.Clicks, p.Impressions, p.CTR*100, p.Position)
		}
	}
	if len(rc.TopQueries) > 0 {
		b.WriteString("\nTop queries (summed clicks, impressions, avg CTR, avg position):\n")
		for _, q := range rc.TopQueries {
			fmt.Fprintf(&b, "- %q: %d clicks, %d impressions, %.2f%% CTR, position %.1f\n", q.Key, q.Clicks, q.Impressions, q.CTR*100, q.Position)
		}
	}

	return b.String()
}
