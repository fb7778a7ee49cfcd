package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/auth"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/report"
)

type fakeDB struct {
	users        map[string]*db.User // keyed by ID
	usersByEmail map[string]*db.User
	createdUsers []*db.User
	sessions     map[string]*db.Session
	deletedHash  string
	sites        map[string]*db.Site
	primary      map[string]*db.Site
	reports      map[string]*db.WeeklyReport
	latest       map[string]*db.WeeklyReport
	tasks        []*db.Task
	tasksErr     error
	statusSet    map[string]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:        map[string]*db.User{},
		usersByEmail: map[string]*db.User{},
		sessions:     map[string]*db.Session{},
		sites:        map[string]*db.Site{},
		primary:      map[string]*db.Site{},
		reports:      map[string]*db.WeeklyReport{},
		latest:       map[string]*db.WeeklyReport{},
		statusSet:    map[string]string{},
	}
}

func (f *fakeDB) GetDB() *sql.DB { return nil }

func (f *fakeDB) GetUser(_ context.Context, userID string) (*db.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*db.User, error) {
	if u, ok := f.usersByEmail[email]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (f *fakeDB) CreateUser(_ context.Context, u *db.User) error {
	u.ID = "new-user"
	f.createdUsers = append(f.createdUsers, u)
	return nil
}

func (f *fakeDB) CreateSession(_ context.Context, s *db.Session) error {
	f.sessions[s.TokenHash] = s
	return nil
}

func (f *fakeDB) GetSession(_ context.Context, tokenHash string) (*db.Session, error) {
	if s, ok := f.sessions[tokenHash]; ok {
		return s, nil
	}
	return nil, errors.New("session not found")
}

func (f *fakeDB) DeleteSession(_ context.Context, tokenHash string) error {
	f.deletedHash = tokenHash
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeDB) GetSite(_ context.Context, siteID string) (*db.Site, error) {
	if s, ok := f.sites[siteID]; ok {
		return s, nil
	}
	return nil, errors.New("site not found")
}

func (f *fakeDB) GetPrimarySiteForUser(_ context.Context, userID string) (*db.Site, error) {
	if s, ok := f.primary[userID]; ok {
		return s, nil
	}
	return nil, errors.New("no primary site")
}

func (f *fakeDB) GetWeeklyReport(_ context.Context, reportID string) (*db.WeeklyReport, error) {
	if r, ok := f.reports[reportID]; ok {
		return r, nil
	}
	return nil, errors.New("report not found")
}

func (f *fakeDB) GetLatestReportForSite(_ context.Context, siteID string) (*db.WeeklyReport, error) {
	if r, ok := f.latest[siteID]; ok {
		return r, nil
	}
	return nil, errors.New("no reports for site")
}

func (f *fakeDB) ListTasksForUser(_ context.Context, _ string, _ int) ([]*db.Task, error) {
	return f.tasks, f.tasksErr
}

func (f *fakeDB) UpdateTaskStatus(_ context.Context, taskID, status string) error {
	f.statusSet[taskID] = status
	return nil
}

type fakeRunner struct {
	result  *report.Result
	err     error
	lastReq report.Request
}

func (f *fakeRunner) Generate(_ context.Context, req report.Request) (*report.Result, error) {
	f.lastReq = req
	return f.result, f.err
}

func asUser(r *http.Request, user *db.User) *http.Request {
	return r.WithContext(auth.WithUser(r.Context(), user))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	h := NewHandler(newFakeDB(), nil, nil)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "seo-reporter", body["service"])
}

func TestHealthCheckMethodNotAllowed(t *testing.T) {
	h := NewHandler(newFakeDB(), nil, nil)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthRegister(t *testing.T) {
	fake := newFakeDB()
	h := NewHandler(fake, nil, nil)

	payload := `{"email":"Client@Example.com","password":"longenough1","name":"Pat"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.AuthRegister(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, fake.createdUsers, 1)
	created := fake.createdUsers[0]
	assert.Equal(t, "client@example.com", created.Email, "email is normalised")
	assert.Equal(t, db.RoleClient, created.Role)
	assert.True(t, created.IsActive)
	require.NotNil(t, created.FullName)
	assert.Equal(t, "Pat", *created.FullName)
	assert.NotEqual(t, "longenough1", created.PasswordHash, "password is stored hashed")
	assert.Len(t, fake.sessions, 1, "registration starts a session")

	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["token"])
}

func TestAuthRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"invalid_json", `{`},
		{"missing_fields", `{"email":"","password":""}`},
		{"short_password", `{"email":"a@example.com","password":"short"}`},
		{"bad_email_syntax", `{"email":"not-an-email","password":"longenough1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(newFakeDB(), nil, nil)
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewBufferString(tt.payload))
			rec := httptest.NewRecorder()
			h.AuthRegister(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAuthRegisterDuplicateEmail(t *testing.T) {
	fake := newFakeDB()
	fake.usersByEmail["taken@example.com"] = &db.User{ID: "user-1", Email: "taken@example.com"}
	h := NewHandler(fake, nil, nil)

	payload := `{"email":"taken@example.com","password":"longenough1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.AuthRegister(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fake.createdUsers)
}

func TestAuthLogin(t *testing.T) {
	hash, err := auth.HashPassword("longenough1")
	require.NoError(t, err)

	fake := newFakeDB()
	fake.usersByEmail["client@example.com"] = &db.User{
		ID: "user-1", Email: "client@example.com", PasswordHash: hash, IsActive: true,
	}
	h := NewHandler(fake, nil, nil)

	t.Run("success", func(t *testing.T) {
		payload := `{"email":"client@example.com","password":"longenough1"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		h.AuthLogin(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		data := body["data"].(map[string]any)
		token := data["token"].(string)
		assert.Len(t, token, 64)
		_, ok := fake.sessions[auth.HashToken(token)]
		assert.True(t, ok, "session stored under the token hash")
	})

	// Unknown email, wrong password and deactivated account all return
	// the same 401.
	failures := []struct {
		name    string
		payload string
	}{
		{"wrong_password", `{"email":"client@example.com","password":"wrongwrong"}`},
		{"unknown_email", `{"email":"nobody@example.com","password":"longenough1"}`},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString(tt.payload))
			rec := httptest.NewRecorder()
			h.AuthLogin(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthLoginInactiveUser(t *testing.T) {
	hash, err := auth.HashPassword("longenough1")
	require.NoError(t, err)

	fake := newFakeDB()
	fake.usersByEmail["gone@example.com"] = &db.User{
		ID: "user-2", Email: "gone@example.com", PasswordHash: hash, IsActive: false,
	}
	h := NewHandler(fake, nil, nil)

	payload := `{"email":"gone@example.com","password":"longenough1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.AuthLogin(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthLogout(t *testing.T) {
	fake := newFakeDB()
	fake.sessions[auth.HashToken("tok-1")] = &db.Session{TokenHash: auth.HashToken("tok-1"), UserID: "user-1"}
	h := NewHandler(fake, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	h.AuthLogout(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, auth.HashToken("tok-1"), fake.deletedHash)
	assert.Empty(t, fake.sessions)
}

func TestReportsGenerate(t *testing.T) {
	fake := newFakeDB()
	runner := &fakeRunner{result: &report.Result{TasksCreated: 2}}
	h := NewHandler(fake, runner, nil)

	payload := `{"site_id":"site-1","period":"week"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/reports/generate", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.ReportsGenerate(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "site-1", runner.lastReq.SiteID)
	assert.Equal(t, report.PeriodWeek, runner.lastReq.Period)
	assert.Nil(t, runner.lastReq.StartDate)
}

func TestReportsGenerateExplicitDates(t *testing.T) {
	runner := &fakeRunner{result: &report.Result{}}
	h := NewHandler(newFakeDB(), runner, nil)

	payload := `{"site_id":"site-1","start_date":"2025-06-02","end_date":"2025-06-08"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/reports/generate", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.ReportsGenerate(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, runner.lastReq.StartDate)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), *runner.lastReq.StartDate)
}

func TestReportsGenerateValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing_site", `{"period":"week"}`},
		{"bad_period", `{"site_id":"site-1","period":"quarter"}`},
		{"bad_start_date", `{"site_id":"site-1","start_date":"June 2","end_date":"2025-06-08"}`},
		{"end_before_start", `{"site_id":"site-1","start_date":"2025-06-08","end_date":"2025-06-02"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			h := NewHandler(newFakeDB(), runner, nil)
			req := httptest.NewRequest(http.MethodPost, "/v1/reports/generate", bytes.NewBufferString(tt.payload))
			rec := httptest.NewRecorder()
			h.ReportsGenerate(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, runner.lastReq.SiteID, "runner should not be invoked")
		})
	}
}

func TestGetReportOwnership(t *testing.T) {
	owner := "user-1"
	fake := newFakeDB()
	fake.reports["report-1"] = &db.WeeklyReport{ID: "report-1", SiteID: "site-1"}
	fake.sites["site-1"] = &db.Site{ID: "site-1", OwnerID: &owner}
	h := NewHandler(fake, nil, nil)

	get := func(user *db.User) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/reports/report-1", nil)
		rec := httptest.NewRecorder()
		h.ReportHandler(rec, asUser(req, user))
		return rec
	}

	t.Run("owner_allowed", func(t *testing.T) {
		rec := get(&db.User{ID: "user-1", Role: db.RoleClient})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin_allowed", func(t *testing.T) {
		rec := get(&db.User{ID: "someone-else", Role: db.RoleAdmin})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("other_client_forbidden", func(t *testing.T) {
		rec := get(&db.User{ID: "user-2", Role: db.RoleClient})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestShareAndSharedReport(t *testing.T) {
	secret := []byte("share-secret")
	fake := newFakeDB()
	fake.reports["report-1"] = &db.WeeklyReport{ID: "report-1", SiteID: "site-1"}
	h := NewHandler(fake, nil, secret)

	req := httptest.NewRequest(http.MethodPost, "/v1/reports/report-1/share", nil)
	rec := httptest.NewRecorder()
	h.ReportHandler(rec, asUser(req, &db.User{ID: "admin", Role: db.RoleAdmin}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	token := body["data"].(map[string]any)["token"].(string)
	require.NotEmpty(t, token)

	// The returned token grants unauthenticated access to the report.
	sharedReq := httptest.NewRequest(http.MethodGet, "/v1/reports/shared?token="+token, nil)
	sharedRec := httptest.NewRecorder()
	h.SharedReport(sharedRec, sharedReq)
	assert.Equal(t, http.StatusOK, sharedRec.Code)

	badReq := httptest.NewRequest(http.MethodGet, "/v1/reports/shared?token=garbage", nil)
	badRec := httptest.NewRecorder()
	h.SharedReport(badRec, badReq)
	assert.Equal(t, http.StatusUnauthorized, badRec.Code)
}

func TestShareReportUnconfigured(t *testing.T) {
	fake := newFakeDB()
	fake.reports["report-1"] = &db.WeeklyReport{ID: "report-1"}
	h := NewHandler(fake, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/reports/report-1/share", nil)
	rec := httptest.NewRecorder()
	h.ReportHandler(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeSummarizer struct {
	text  string
	calls int
}

func (f *fakeSummarizer) GenerateSummary(_ context.Context, _ *ai.ReportContext) string {
	f.calls++
	return f.text
}

func TestDashboardSummaryWithNarrative(t *testing.T) {
	fake := newFakeDB()
	fake.primary["user-1"] = &db.Site{ID: "site-1", Name: "Harborview"}
	fake.latest["site-1"] = &db.WeeklyReport{ID: "report-1", SiteID: "site-1", ClicksChange: 12.0}
	h := NewHandler(fake, nil, nil)
	summarizer := &fakeSummarizer{text: "Traffic grew 12% this week."}
	h.Summaries = summarizer

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard/summary", nil)
	rec := httptest.NewRecorder()
	h.DashboardSummary(rec, asUser(req, &db.User{ID: "user-1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "Traffic grew 12% this week.", data["summary"])
	assert.Equal(t, 1, summarizer.calls)
}

func TestDashboardSummary(t *testing.T) {
	fake := newFakeDB()
	fake.primary["user-1"] = &db.Site{ID: "site-1", Name: "Harborview"}
	fake.latest["site-1"] = &db.WeeklyReport{ID: "report-1", SiteID: "site-1"}
	fake.tasks = []*db.Task{{ID: "task-1", Title: "Fix titles"}}
	h := NewHandler(fake, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard/summary", nil)
	rec := httptest.NewRecorder()
	h.DashboardSummary(rec, asUser(req, &db.User{ID: "user-1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.NotNil(t, data["site"])
	assert.NotNil(t, data["latest_report"])
	assert.NotNil(t, data["tasks"])
}

func TestDashboardSummarySiteIDParam(t *testing.T) {
	owner := "user-1"
	fake := newFakeDB()
	fake.sites["site-2"] = &db.Site{ID: "site-2", Name: "Second site", OwnerID: &owner}
	fake.latest["site-2"] = &db.WeeklyReport{ID: "report-2", SiteID: "site-2"}

	get := func(user *db.User, target string) *httptest.ResponseRecorder {
		h := NewHandler(fake, nil, nil)
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.DashboardSummary(rec, asUser(req, user))
		return rec
	}

	rec := get(&db.User{ID: "user-1"}, "/v1/dashboard/summary?site_id=site-2")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "site-2", data["site"].(map[string]any)["id"])
	assert.Equal(t, "report-2", data["latest_report"].(map[string]any)["id"])

	rec = get(&db.User{ID: "someone-else", Role: db.RoleClient}, "/v1/dashboard/summary?site_id=site-2")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(&db.User{ID: "someone-else", Role: db.RoleAdmin}, "/v1/dashboard/summary?site_id=site-2")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(&db.User{ID: "user-1"}, "/v1/dashboard/summary?site_id=missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardSummaryNoSite(t *testing.T) {
	// A user with no primary site still gets their task list.
	fake := newFakeDB()
	h := NewHandler(fake, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard/summary", nil)
	rec := httptest.NewRecorder()
	h.DashboardSummary(rec, asUser(req, &db.User{ID: "user-1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	_, hasSite := data["site"]
	assert.False(t, hasSite)
}

func TestTasksListLimitValidation(t *testing.T) {
	h := NewHandler(newFakeDB(), nil, nil)

	for _, limit := range []string{"0", "101", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks?limit="+limit, nil)
		rec := httptest.NewRecorder()
		h.TasksList(rec, asUser(req, &db.User{ID: "user-1"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestTaskUpdate(t *testing.T) {
	fake := newFakeDB()
	h := NewHandler(fake, nil, nil)

	req := httptest.NewRequest(http.MethodPatch, "/v1/tasks/task-1", bytes.NewBufferString(`{"status":"COMPLETED"}`))
	rec := httptest.NewRecorder()
	h.TaskUpdate(rec, asUser(req, &db.User{ID: "user-1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.TaskStatusCompleted, fake.statusSet["task-1"])
}

func TestTaskUpdateInvalidStatus(t *testing.T) {
	fake := newFakeDB()
	h := NewHandler(fake, nil, nil)

	req := httptest.NewRequest(http.MethodPatch, "/v1/tasks/task-1", bytes.NewBufferString(`{"status":"DONE"}`))
	rec := httptest.NewRecorder()
	h.TaskUpdate(rec, asUser(req, &db.User{ID: "user-1"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fake.statusSet)
}
