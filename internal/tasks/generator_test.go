package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/db"
)

type fakeCompleter struct {
	enabled    bool
	completion *ai.Completion
	err        error
	calls      int
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (*ai.Completion, error) {
	f.calls++
	return f.completion, f.err
}

func (f *fakeCompleter) Enabled() bool { return f.enabled }

type fakeTaskStore struct {
	existing  int
	countErr  error
	createErr map[string]error // per-title insert failures
	created   []*db.Task
}

func (f *fakeTaskStore) CountAITasks(ctx context.Context, userID string, weekStart time.Time) (int, error) {
	return f.existing, f.countErr
}

func (f *fakeTaskStore) CreateTask(ctx context.Context, t *db.Task) error {
	if err := f.createErr[t.Title]; err != nil {
		return err
	}
	f.created = append(f.created, t)
	return nil
}

func completionWith(text string) *ai.Completion {
	return &ai.Completion{Text: text, TokensUsed: 300}
}

var (
	weekStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	weekEnd   = time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
)

func testUser() *db.User {
	return &db.User{ID: "user-1", Email: "client@example.com"}
}

func TestGenerateValidatesCandidates(t *testing.T) {
	t.Parallel()

	text := `{"tasks": [
		{"title": "Fix sitemap", "description": "Resubmit the sitemap in Search Console", "priority": "high"},
		{"title": "Bad priority", "description": "Something", "priority": "ASAP"},
		{"title": "", "description": "No title", "priority": "LOW"},
		{"title": "Refresh blog", "description": "Update the top three posts", "priority": "MEDIUM"}
	]}`

	g := NewGenerator(&fakeCompleter{enabled: true, completion: completionWith(text)}, &fakeTaskStore{}, nil)
	got, err := g.Generate(context.Background(), &Context{SiteName: "Harborview"})
	require.NoError(t, err)

	// Invalid entries are dropped individually; casing is normalised.
	require.Len(t, got, 2)
	assert.Equal(t, "Fix sitemap", got[0].Title)
	assert.Equal(t, PriorityHigh, got[0].Priority)
	assert.Equal(t, "Refresh blog", got[1].Title)
}

func TestGenerateCapsBatchSize(t *testing.T) {
	t.Parallel()

	text := `{"tasks": [
		{"title": "t1", "description": "d", "priority": "LOW"},
		{"title": "t2", "description": "d", "priority": "LOW"},
		{"title": "t3", "description": "d", "priority": "LOW"},
		{"title": "t4", "description": "d", "priority": "LOW"},
		{"title": "t5", "description": "d", "priority": "LOW"},
		{"title": "t6", "description": "d", "priority": "LOW"},
		{"title": "t7", "description": "d", "priority": "LOW"}
	]}`

	g := NewGenerator(&fakeCompleter{enabled: true, completion: completionWith(text)}, &fakeTaskStore{}, nil)
	got, err := g.Generate(context.Background(), &Context{})
	require.NoError(t, err)
	assert.Len(t, got, MaxTasksPerBatch)
}

func TestGenerateAcceptsBareArray(t *testing.T) {
	t.Parallel()

	text := `[{"title": "Only one", "description": "d", "priority": "URGENT"}]`
	g := NewGenerator(&fakeCompleter{enabled: true, completion: completionWith(text)}, &fakeTaskStore{}, nil)
	got, err := g.Generate(context.Background(), &Context{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, PriorityUrgent, got[0].Priority)
}

func TestGenerateUnparseableResponseSkipsBatch(t *testing.T) {
	t.Parallel()

	g := NewGenerator(&fakeCompleter{enabled: true, completion: completionWith("Sorry, I cannot help with that.")}, &fakeTaskStore{}, nil)
	got, err := g.Generate(context.Background(), &Context{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerateDisabledClient(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{enabled: false}
	g := NewGenerator(completer, &fakeTaskStore{}, nil)
	got, err := g.Generate(context.Background(), &Context{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, completer.calls)
}

func TestCreateAITasksForClient(t *testing.T) {
	t.Parallel()

	text := `{"tasks": [
		{"title": "Fix sitemap", "description": "d", "priority": "HIGH"},
		{"title": "Refresh blog", "description": "d", "priority": "MEDIUM"}
	]}`
	store := &fakeTaskStore{}
	g := NewGenerator(&fakeCompleter{enabled: true, completion: completionWith(text)}, store, nil)

	created, err := g.CreateAITasksForClient(context.Background(), testUser(), weekStart, weekEnd, &Context{})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	require.Len(t, store.created, 2)
	task := store.created[0]
	assert.Equal(t, "user-1", task.UserID)
	assert.Equal(t, db.TaskStatusPending, task.Status)
	assert.True(t, task.IsAiGenerated)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, weekEnd, *task.DueDate)
	assert.Equal(t, weekStart, *task.WeekStartDate)
}

func TestCreateAITasksIdempotentPerWeek(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{enabled: true, completion: completionWith(`{"tasks": []}`)}
	store := &fakeTaskStore{existing: 4}
	g := NewGenerator(completer, store, nil)

	created, err := g.CreateAITasksForClient(context.Background(), testUser(), weekStart, weekEnd, &Context{})
	require.NoError(t, err)

	// Rerun returns the existing count without calling the model.
	assert.Equal(t, 4, created)
	assert.Zero(t, completer.calls)
	assert.Empty(t, store.created)
}

func TestCreateAITasksToleratesInsertFailures(t *testing.T) {
	t.Parallel()

	text := `{"tasks": [
		{"title": "first", "description": "d", "priority": "LOW"},
		{"title": "second", "description": "d", "priority": "LOW"},
		{"title": "third", "description": "d", "priority": "LOW"}
	]}`
	store := &fakeTaskStore{createErr: map[string]error{"second": errors.New("constraint violation")}}
	g := NewGenerator(&fakeCompleter{enabled: true, completion: completionWith(text)}, store, nil)

	created, err := g.CreateAITasksForClient(context.Background(), testUser(), weekStart, weekEnd, &Context{})
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	require.Len(t, store.created, 2)
	assert.Equal(t, "first", store.created[0].Title)
	assert.Equal(t, "third", store.created[1].Title)
}

func TestCreateAITasksCountError(t *testing.T) {
	t.Parallel()

	store := &fakeTaskStore{countErr: errors.New("connection refused")}
	g := NewGenerator(&fakeCompleter{enabled: true}, store, nil)

	_, err := g.CreateAITasksForClient(context.Background(), testUser(), weekStart, weekEnd, &Context{})
	assert.ErrorContains(t, err, "failed to check existing AI tasks")
}
