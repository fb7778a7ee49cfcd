package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONBlock pulls the JSON payload out of a model response.
// Preference order: a ```json fenced block, then any fenced block, then
// the raw text trimmed. Grounded on the reality that models wrap JSON in
// markdown fences despite instructions not to.
func ExtractJSONBlock(text string) string {
	trimmed := strings.TrimSpace(text)

	if block, ok := fencedBlock(trimmed, "```json"); ok {
		return block
	}
	if block, ok := fencedBlock(trimmed, "```"); ok {
		return block
	}
	return trimmed
}

// fencedBlock returns the contents of the first fence opened by marker.
func fencedBlock(text, marker string) (string, bool) {
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(marker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// decodeInsights attempts the strict schema decode of a response.
func decodeInsights(text string) (*Insights, error) {
	var ins Insights
	if err := json.Unmarshal([]byte(ExtractJSONBlock(text)), &ins); err != nil {
		return nil, fmt.Errorf("failed to decode insights JSON: %w", err)
	}
	return &ins, nil
}

// heuristicInsights buckets non-empty lines of free text into insight
// fields by keyword matching. Best-effort degrade for responses that are
// not valid JSON; the classification is not a correctness guarantee.
func heuristicInsights(text string) *Insights {
	ins := &Insights{}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(raw), "-*•0123456789. "))
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "urgent") || strings.Contains(lower, "immediately") || strings.Contains(lower, "critical"):
			ins.UrgentActions = append(ins.UrgentActions, line)
		case strings.Contains(lower, "recommend") || strings.Contains(lower, "should") || strings.Contains(lower, "consider"):
			ins.StrategicRecommendations = append(ins.StrategicRecommendations, line)
		case strings.Contains(lower, "win") || strings.Contains(lower, "improv") || strings.Contains(lower, "growth"):
			ins.Wins = append(ins.Wins, line)
		case strings.Contains(lower, "trend") || strings.Contains(lower, "market") || strings.Contains(lower, "industry"):
			if ins.MarketContext == "" {
				ins.MarketContext = line
			} else {
				ins.IndustryTrends = line
			}
		default:
			if ins.ExecutiveSummary == "" {
				ins.ExecutiveSummary = line
			} else {
				ins.KeyInsights = append(ins.KeyInsights, line)
			}
		}
	}

	return ins
}

// parseInsights runs the two-stage decode pipeline: strict JSON first,
// then the heuristic line classifier. It never fails; degraded reports
// whether the heuristic path was taken.
func parseInsights(text string) (ins *Insights, degraded bool) {
	if decoded, err := decodeInsights(text); err == nil {
		return decoded, false
	}
	return heuristicInsights(text), true
}

// Placeholder sentences for string fields the model omitted.
const (
	placeholderSummary = "Search performance data for this period has been collected and is summarised in the metrics above."
	placeholderContext = "No market context was available for this period."
	placeholderTrends  = "No notable industry trends were identified this period."
)

// applyDefaults fills absent fields so consumers never see nil slices or
// empty headline strings.
func applyDefaults(ins *Insights) {
	if strings.TrimSpace(ins.ExecutiveSummary) == "" {
		ins.ExecutiveSummary = placeholderSummary
	}
	if strings.TrimSpace(ins.MarketContext) == "" {
		ins.MarketContext = placeholderContext
	}
	if strings.TrimSpace(ins.IndustryTrends) == "" {
		ins.IndustryTrends = placeholderTrends
	}
	if ins.KeyInsights == nil {
		ins.KeyInsights = []string{}
	}
	if ins.UrgentActions == nil {
		ins.UrgentActions = []string{}
	}
	if ins.StrategicRecommendations == nil {
		ins.StrategicRecommendations = []string{}
	}
}
