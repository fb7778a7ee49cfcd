// Package insights produces deterministic, rule-based findings and
// recommendations from period-over-period search metrics. It performs no
// I/O and serves as the fallback when AI enrichment is unavailable.
package insights

import (
	"fmt"
	"strings"

	"github.com/harborview/seo-reporter/internal/metrics"
)

// Severity classifies a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityNegative Severity = "negative"
	SeverityPositive Severity = "positive"
	SeverityInfo     Severity = "info"
)

// Finding is one categorised observation about the comparison.
type Finding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Thresholds for the individual-metric rules, as signed percentages
// except position which is an absolute rank delta.
const (
	criticalDropPct  = -20.0
	warningDropPct   = -10.0
	positiveRisePct  = 10.0
	positionDriftAbs = 2.0
)

// Findings applies the fixed threshold rules to a comparison and returns
// the findings in evaluation order. The two compound diagnoses are
// mutually exclusive and always evaluated after the per-metric rules.
func Findings(c metrics.ComparisonMetrics) []Finding {
	var out []Finding

	switch {
	case c.ClicksChange <= criticalDropPct:
		out = append(out, Finding{SeverityCritical, fmt.Sprintf("Clicks dropped %.1f%% compared to the previous period - immediate attention required", -c.ClicksChange)})
	case c.ClicksChange < warningDropPct:
		out = append(out, Finding{SeverityWarning, fmt.Sprintf("Clicks declined %.1f%% compared to the previous period", -c.ClicksChange)})
	case c.ClicksChange > positiveRisePct:
		out = append(out, Finding{SeverityPositive, fmt.Sprintf("Clicks grew %.1f%% compared to the previous period", c.ClicksChange)})
	}

	switch {
	case c.ImpressionsChange <= criticalDropPct:
		out = append(out, Finding{SeverityCritical, fmt.Sprintf("Impressions dropped %.1f%% - search visibility has fallen sharply", -c.ImpressionsChange)})
	case c.ImpressionsChange < warningDropPct:
		out = append(out, Finding{SeverityWarning, fmt.Sprintf("Impressions declined %.1f%% - search visibility is slipping", -c.ImpressionsChange)})
	case c.ImpressionsChange > positiveRisePct:
		out = append(out, Finding{SeverityPositive, fmt.Sprintf("Impressions grew %.1f%% - search visibility is expanding", c.ImpressionsChange)})
	}

	switch {
	case c.CtrChange < warningDropPct:
		out = append(out, Finding{SeverityWarning, fmt.Sprintf("Click-through rate declined %.1f%% - listings are attracting fewer clicks per impression", -c.CtrChange)})
	case c.CtrChange > positiveRisePct:
		out = append(out, Finding{SeverityPositive, fmt.Sprintf("Click-through rate improved %.1f%%", c.CtrChange)})
	}

	switch {
	case c.PositionChange > positionDriftAbs:
		out = append(out, Finding{SeverityNegative, fmt.Sprintf("Average position worsened by %.1f places", c.PositionChange)})
	case c.PositionChange < -positionDriftAbs:
		out = append(out, Finding{SeverityPositive, fmt.Sprintf("Average position improved by %.1f places", -c.PositionChange)})
	}

	// Compound diagnoses, mutually exclusive.
	if c.ClicksChange < warningDropPct && c.ImpressionsChange < warningDropPct {
		out = append(out, Finding{SeverityCritical, "Both clicks and impressions are down significantly - this pattern suggests a ranking or algorithm issue rather than a seasonal dip"})
	} else if c.ClicksChange < warningDropPct && c.ImpressionsChange >= 0 {
		out = append(out, Finding{SeverityWarning, "Visibility is stable but clicks are down - CTR optimisation needed on existing rankings"})
	}

	return out
}

// Recommendations produces the ranked, numbered action list for a
// comparison plus its top pages and queries. The list is appended in rule
// order; if no rule triggers, a single continue-monitoring line is
// returned.
func Recommendations(c metrics.ComparisonMetrics, topPages, topQueries []metrics.TopEntry) []string {
	var items []string

	if c.ClicksChange < warningDropPct {
		items = append(items,
			"Run a technical SEO audit to rule out crawl or indexing regressions",
			"Check Google Search Console for manual actions or penalty notices")
	}

	if c.PositionChange > positionDriftAbs {
		items = append(items,
			"Review competitor movement for the keywords that lost ground",
			"Refresh content on the pages that slipped in rankings",
			"Audit recent backlink changes for lost or toxic links")
	}

	if c.CtrChange < warningDropPct {
		items = append(items,
			"Rewrite title tags and meta descriptions on underperforming pages",
			"Add structured data markup to improve result appearance")
	}

	// Page-level opportunity mining: decent visibility, weak engagement.
	count := 0
	for _, p := range topPages {
		if count >= 3 {
			break
		}
		if p.CTR < 0.02 && p.Impressions > 100 {
			items = append(items, fmt.Sprintf("Optimise title and meta description for %s - %d impressions but only %.1f%% CTR", p.Key, p.Impressions, p.CTR*100))
			count++
		}
	}

	// High-impression, low-CTR queries.
	count = 0
	for _, q := range topQueries {
		if count >= 2 {
			break
		}
		if q.Impressions > 500 && q.CTR < 0.02 {
			items = append(items, fmt.Sprintf("Target %q - high impressions (%d) with low CTR suggest untapped click potential", q.Key, q.Impressions))
			count++
		}
	}

	// Quick wins: queries ranking just off page one.
	count = 0
	for _, q := range topQueries {
		if count >= 3 {
			break
		}
		if q.Position > 5 && q.Position < 15 && q.Impressions > 200 {
			items = append(items, fmt.Sprintf("Quick win: %q sits at position %.1f - a small content push could reach page one", q.Key, q.Position))
			count++
		}
	}

	if len(items) == 0 {
		items = append(items, "Performance is stable - continue monitoring and maintain the current content schedule")
	}

	numbered := make([]string, len(items))
	for i, item := range items {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return numbered
}

// Summary renders a short plain-text executive summary from a comparison,
// used for dashboards and as the AI fallback text.
func Summary(c metrics.ComparisonMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The site received %d clicks from %d impressions this period", c.Current.TotalClicks, c.Current.TotalImpressions)

	switch {
	case c.ClicksChange > 0:
		fmt.Fprintf(&b, ", up %.1f%% on the previous period.", c.ClicksChange)
	case c.ClicksChange < 0:
		fmt.Fprintf(&b, ", down %.1f%% on the previous period.", -c.ClicksChange)
	default:
		b.WriteString(", level with the previous period.")
	}

	if c.Current.AveragePosition > 0 {
		fmt.Fprintf(&b, " Average position was %.1f", c.Current.AveragePosition)
		switch {
		case c.PositionChange < 0:
			fmt.Fprintf(&b, ", an improvement of %.1f places.", -c.PositionChange)
		case c.PositionChange > 0:
			fmt.Fprintf(&b, ", %.1f places lower than before.", c.PositionChange)
		default:
			b.WriteString(", unchanged.")
		}
	}

	return b.String()
}

// FindingsText flattens findings into the bullet text persisted on the
// report row.
func FindingsText(findings []Finding) string {
	if len(findings) == 0 {
		return "No significant changes detected this period."
	}
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = fmt.Sprintf("[%s] %s", strings.ToUpper(string(f.Severity)), f.Message)
	}
	return strings.Join(lines, "\n")
}
