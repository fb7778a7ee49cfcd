// Package tasks turns weekly report context into persisted, AI-generated
// action items, with a per-user per-week idempotency guard.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/metrics"
	"github.com/harborview/seo-reporter/internal/observability"
)

// MaxTasksPerBatch caps how many tasks one generation run may produce.
const MaxTasksPerBatch = 5

// Priority is the enumerated task priority. Any other value from the
// model invalidates that single task, not the batch.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// validPriorities is the allow-list for model-supplied priorities.
var validPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// GeneratedTask is one validated task candidate from the model.
type GeneratedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// Context carries the report data the generator shows the model.
type Context struct {
	SiteName        string
	SiteURL         string
	Comparison      metrics.ComparisonMetrics
	TopPages        []metrics.TopEntry
	TopQueries      []metrics.TopEntry
	Recommendations string
}

// Completer is the completion interface the generator consumes.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (*ai.Completion, error)
	Enabled() bool
}

// Store defines the database operations needed for task persistence.
type Store interface {
	CountAITasks(ctx context.Context, userID string, weekStart time.Time) (int, error)
	CreateTask(ctx context.Context, t *db.Task) error
}

// UsageRecorder persists one audit row per outbound completion call.
type UsageRecorder interface {
	RecordAPIUsage(ctx context.Context, u *db.APIUsage) error
}

// Generator produces and persists AI task batches.
type Generator struct {
	client Completer
	store  Store
	usage  UsageRecorder
}

// NewGenerator creates a task generator. usage may be nil.
func NewGenerator(client Completer, store Store, usage UsageRecorder) *Generator {
	return &Generator{client: client, store: store, usage: usage}
}

const taskSystemPrompt = `You are an SEO project manager creating a weekly action list for a property-management website.
Base every task ONLY on the metrics and recommendations supplied. Respond with a JSON object of the form:
{"tasks": [{"title": "...", "description": "...", "priority": "LOW|MEDIUM|HIGH|URGENT"}]}
Produce at most 5 tasks. Titles must be short and actionable; descriptions must say concretely what to do and why.`

// Generate asks the model for up to MaxTasksPerBatch tasks. Parse or
// call failures return an empty slice, never partial garbage - a task
// that is missing its title or description is not actionable.
func (g *Generator) Generate(ctx context.Context, tc *Context) ([]GeneratedTask, error) {
	if !g.client.Enabled() {
		log.Info().Str("site", tc.SiteName).Msg("Task generation skipped: AI client disabled")
		return nil, nil
	}

	completion, err := g.client.Complete(ctx, taskSystemPrompt, buildTaskPrompt(tc), 0.6, 900)
	g.recordUsage(ctx, completion, err)
	if err != nil {
		return nil, fmt.Errorf("task completion call failed: %w", err)
	}

	candidates, err := parseTasks(completion.Text)
	if err != nil {
		log.Warn().Err(err).Str("site", tc.SiteName).Msg("Task response was not parseable JSON, skipping batch")
		return nil, nil
	}

	valid := make([]GeneratedTask, 0, len(candidates))
	for _, t := range candidates {
		if len(valid) >= MaxTasksPerBatch {
			break
		}
		t.Priority = Priority(strings.ToUpper(strings.TrimSpace(string(t.Priority))))
		if strings.TrimSpace(t.Title) == "" || strings.TrimSpace(t.Description) == "" {
			log.Warn().Str("title", t.Title).Msg("Dropping task candidate with missing title or description")
			continue
		}
		if !validPriorities[t.Priority] {
			log.Warn().Str("title", t.Title).Str("priority", string(t.Priority)).Msg("Dropping task candidate with invalid priority")
			continue
		}
		valid = append(valid, t)
	}
	return valid, nil
}

// CreateAITasksForClient generates and persists this week's task batch
// for one user. If any AI-generated tasks already exist for (user,
// weekStart) the whole generation is skipped and the existing count is
// returned - reruns must not flood users with duplicates. Individual
// insert failures are logged and skipped. Returns the count created (or
// pre-existing).
func (g *Generator) CreateAITasksForClient(ctx context.Context, user *db.User, weekStart, weekEnd time.Time, tc *Context) (int, error) {
	existing, err := g.store.CountAITasks(ctx, user.ID, weekStart)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing AI tasks: %w", err)
	}
	if existing > 0 {
		log.Info().
			Str("user_id", user.ID).
			Str("week_start", weekStart.Format("2006-01-02")).
			Int("existing", existing).
			Msg("AI tasks already exist for this week, skipping generation")
		return existing, nil
	}

	generated, err := g.Generate(ctx, tc)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, gt := range generated {
		due := weekEnd
		task := &db.Task{
			UserID:        user.ID,
			Title:         gt.Title,
			Description:   gt.Description,
			Priority:      string(gt.Priority),
			Status:        db.TaskStatusPending,
			DueDate:       &due,
			WeekStartDate: &weekStart,
			WeekEndDate:   &weekEnd,
			IsAiGenerated: true,
		}
		if err := g.store.CreateTask(ctx, task); err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Str("title", gt.Title).Msg("Failed to insert AI task, continuing with batch")
			continue
		}
		created++
	}

	log.Info().
		Str("user_id", user.ID).
		Str("week_start", weekStart.Format("2006-01-02")).
		Int("created", created).
		Msg("AI task batch created")
	return created, nil
}

// taskPayload matches the JSON shape requested from the model. A bare
// array is accepted as well.
type taskPayload struct {
	Tasks []GeneratedTask `json:"tasks"`
}

func parseTasks(text string) ([]GeneratedTask, error) {
	block := ai.ExtractJSONBlock(text)

	var payload taskPayload
	if err := json.Unmarshal([]byte(block), &payload); err == nil && payload.Tasks != nil {
		return payload.Tasks, nil
	}

	var bare []GeneratedTask
	if err := json.Unmarshal([]byte(block), &bare); err == nil {
		return bare, nil
	}

	return nil, fmt.Errorf("response is neither a task object nor a task array")
}

func (g *Generator) recordUsage(ctx context.Context, completion *ai.Completion, callErr error) {
	observability.RecordAPICall(ctx, db.ProviderOpenAI, callErr == nil)

	if g.usage == nil {
		return
	}
	u := &db.APIUsage{
		Provider: db.ProviderOpenAI,
		Endpoint: "chat/completions",
		Success:  callErr == nil,
	}
	if completion != nil {
		u.TokensUsed = completion.TokensUsed
	}
	if callErr != nil {
		u.Error = callErr.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.usage.RecordAPIUsage(writeCtx, u); err != nil {
		log.Warn().Err(err).Msg("Failed to record API usage")
	}
}

func buildTaskPrompt(tc *Context) string {
	var b strings.Builder
	c := tc.Comparison
	fmt.Fprintf(&b, "Site: %s (%s)\n\n", tc.SiteName, tc.SiteURL)
	fmt.Fprintf(&b, "Clicks: %d (%+.1f%%)\nImpressions: %d (%+.1f%%)\nCTR: %.2f%% (%+.1f%%)\nAverage position: %.1f (%+.1f places)\n",
		c.Current.TotalClicks, c.ClicksChange,
		c.Current.TotalImpressions, c.ImpressionsChange,
		c.Current.AverageCtr*100, c.CtrChange,
		c.Current.AveragePosition, c.PositionChange)

	if len(tc.TopPages) > 0 {
		b.WriteString("\nTop pages:\n")
		for _, p := range tc.TopPages {
			fmt.Fprintf(&b, "- %s: %d clicks, %d impressions, %.2f%% CTR\n", p.Key, p.Clicks, p.Impressions, p.CTR*100)
		}
	}
	if len(tc.TopQueries) > 0 {
		b.WriteString("\nTop queries:\n")
		for _, q := range tc.TopQueries {
			fmt.Fprintf(&b, "- %q: %d clicks, %d impressions, position %.1f\n", q.Key, q.Clicks, q.Impressions, q.Position)
		}
	}
	if tc.Recommendations != "" {
		fmt.Fprintf(&b, "\nCurrent recommendations:\n%s\n", tc.Recommendations)
	}
	return b.String()
}
