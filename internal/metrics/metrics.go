// Package metrics defines the search-performance data model and the
// aggregation maths used by report generation.
package metrics

import (
	"sort"
	"time"
)

// DailyMetric is one day of search performance for a site.
type DailyMetric struct {
	SiteID      string    `json:"site_id"`
	Date        time.Time `json:"date"`
	Clicks      int       `json:"clicks"`
	Impressions int       `json:"impressions"`
	CTR         float64   `json:"ctr"`      // clicks / impressions, range [0,1]
	Position    float64   `json:"position"` // average rank, lower is better
}

// PageMetric is one day of search performance for a single page.
type PageMetric struct {
	SiteID      string    `json:"site_id"`
	Date        time.Time `json:"date"`
	Page        string    `json:"page"`
	Clicks      int       `json:"clicks"`
	Impressions int       `json:"impressions"`
	CTR         float64   `json:"ctr"`
	Position    float64   `json:"position"`
}

// QueryMetric is one day of search performance for a single search query.
type QueryMetric struct {
	SiteID      string    `json:"site_id"`
	Date        time.Time `json:"date"`
	Query       string    `json:"query"`
	Clicks      int       `json:"clicks"`
	Impressions int       `json:"impressions"`
	CTR         float64   `json:"ctr"`
	Position    float64   `json:"position"`
}

// PeriodMetrics holds totals for a closed date range. A zero value means
// "no data for the period", not a true zero - callers must not treat it
// as a measured result.
type PeriodMetrics struct {
	TotalClicks      int     `json:"total_clicks"`
	TotalImpressions int     `json:"total_impressions"`
	AverageCtr       float64 `json:"average_ctr"`
	AveragePosition  float64 `json:"average_position"`
}

// ComparisonMetrics is a period's totals plus its deltas against the
// immediately preceding equal-length period.
type ComparisonMetrics struct {
	Current  PeriodMetrics `json:"current"`
	Previous PeriodMetrics `json:"previous"`

	// Signed percentage changes relative to the previous period.
	ClicksChange      float64 `json:"clicks_change"`
	ImpressionsChange float64 `json:"impressions_change"`
	CtrChange         float64 `json:"ctr_change"`

	// Absolute difference (current - previous). Negative is an improvement
	// since lower positions rank higher.
	PositionChange float64 `json:"position_change"`
}

// TopEntry is an aggregated page or query within a period, keyed by the
// page URL or query text.
type TopEntry struct {
	Key         string  `json:"key"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// PercentChange returns the signed percentage change from prev to curr.
// When prev is zero it returns 0 rather than dividing by zero, which means
// a period going from zero to non-zero reports as 0% change. This mirrors
// the historical reporting behaviour and is likely a guard artifact rather
// than an intentional convention; keep it for compatibility.
func PercentChange(curr, prev float64) float64 {
	if prev > 0 {
		return (curr - prev) / prev * 100
	}
	return 0
}

// Compare computes the deltas between a period and its predecessor.
func Compare(curr, prev PeriodMetrics) ComparisonMetrics {
	return ComparisonMetrics{
		Current:           curr,
		Previous:          prev,
		ClicksChange:      PercentChange(float64(curr.TotalClicks), float64(prev.TotalClicks)),
		ImpressionsChange: PercentChange(float64(curr.TotalImpressions), float64(prev.TotalImpressions)),
		CtrChange:         PercentChange(curr.AverageCtr, prev.AverageCtr),
		PositionChange:    curr.AveragePosition - prev.AveragePosition,
	}
}

// AggregateDaily folds daily rows into period totals. Clicks and
// impressions are summed; ctr and position are an arithmetic mean over the
// row count, not impression-weighted. An empty slice yields the zero value.
func AggregateDaily(rows []DailyMetric) PeriodMetrics {
	if len(rows) == 0 {
		return PeriodMetrics{}
	}

	var pm PeriodMetrics
	var ctrSum, posSum float64
	for _, r := range rows {
		pm.TotalClicks += r.Clicks
		pm.TotalImpressions += r.Impressions
		ctrSum += r.CTR
		posSum += r.Position
	}
	pm.AverageCtr = ctrSum / float64(len(rows))
	pm.AveragePosition = posSum / float64(len(rows))
	return pm
}

// topEntries groups rows by key, sums clicks/impressions, averages
// ctr/position per group, and returns the top entries by summed clicks
// descending. Ties keep the order keys first appeared in the input.
func topEntries(keys []string, clicks, impressions []int, ctrs, positions []float64, limit int) []TopEntry {
	type group struct {
		entry TopEntry
		n     int
	}

	groups := make(map[string]*group)
	ordered := make([]*group, 0)
	for i, key := range keys {
		g, ok := groups[key]
		if !ok {
			g = &group{entry: TopEntry{Key: key}}
			groups[key] = g
			ordered = append(ordered, g)
		}
		g.entry.Clicks += clicks[i]
		g.entry.Impressions += impressions[i]
		g.entry.CTR += ctrs[i]
		g.entry.Position += positions[i]
		g.n++
	}

	for _, g := range ordered {
		g.entry.CTR /= float64(g.n)
		g.entry.Position /= float64(g.n)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].entry.Clicks > ordered[j].entry.Clicks
	})

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	entries := make([]TopEntry, len(ordered))
	for i, g := range ordered {
		entries[i] = g.entry
	}
	return entries
}

// TopPages aggregates page rows into the top entries by summed clicks.
func TopPages(rows []PageMetric, limit int) []TopEntry {
	keys := make([]string, len(rows))
	clicks := make([]int, len(rows))
	impressions := make([]int, len(rows))
	ctrs := make([]float64, len(rows))
	positions := make([]float64, len(rows))
	for i, r := range rows {
		keys[i] = r.Page
		clicks[i] = r.Clicks
		impressions[i] = r.Impressions
		ctrs[i] = r.CTR
		positions[i] = r.Position
	}
	return topEntries(keys, clicks, impressions, ctrs, positions, limit)
}

// TopQueries aggregates query rows into the top entries by summed clicks.
func TopQueries(rows []QueryMetric, limit int) []TopEntry {
	keys := make([]string, len(rows))
	clicks := make([]int, len(rows))
	impressions := make([]int, len(rows))
	ctrs := make([]float64, len(rows))
	positions := make([]float64, len(rows))
	for i, r := range rows {
		keys[i] = r.Query
		clicks[i] = r.Clicks
		impressions[i] = r.Impressions
		ctrs[i] = r.CTR
		positions[i] = r.Position
	}
	return topEntries(keys, clicks, impressions, ctrs, positions, limit)
}
